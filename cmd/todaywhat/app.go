package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"todaywhat/internal/appinfo"
	"todaywhat/internal/capture"
	"todaywhat/internal/config"
	"todaywhat/internal/feature"
	"todaywhat/internal/ics"
	appLog "todaywhat/internal/log"
	"todaywhat/internal/neis"
	"todaywhat/internal/schedule"
	"todaywhat/internal/store"
	"todaywhat/internal/web"
	"todaywhat/internal/widget"
)

const (
	snapshotMaxAge  = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
	onceTimeout     = time.Minute
)

// app owns the long-lived collaborators shared by the server and the
// single-shot pipeline.
type app struct {
	cfg     *config.Store
	loc     *time.Location
	clock   schedule.Clock
	dataDir string
	listen  string

	records   *store.LocalStore
	neis      *neis.Client
	feeds     *ics.Fetcher
	home      *feature.Home
	settings  *feature.SettingsFeature
	widgets   *widget.Provider
	snapshots *capture.Snapshotter
}

func newApp(cfg *config.Store, flags flagConfig) (*app, error) {
	conf := cfg.Snapshot()
	loc := resolveLocationOrLocal(conf.Timezone)
	clock := schedule.SystemClock{Location: loc}

	dataDir := conf.DataDir
	if flags.debug {
		dataDir = "./cache"
	}
	listen := flags.listenAddr(conf.Listen)

	records, err := store.Open(filepath.Join(dataDir, "todaywhat.db"))
	if err != nil {
		return nil, err
	}

	client := neis.NewClient(neis.Options{
		BaseURL:  conf.NEIS.BaseURL,
		APIKey:   conf.NEIS.APIKey,
		Timeout:  time.Duration(conf.NEIS.TimeoutSeconds) * time.Second,
		CacheDir: filepath.Join(dataDir, "neis-cache"),
	}, cfg)

	mainDeps := feature.MainDeps{
		Clock:          clock,
		Preferences:    cfg,
		Identity:       cfg,
		Platform:       flags.platform,
		CurrentVersion: conf.ITunes.CurrentVersion,
	}
	if len(conf.ITunes.AppIDs) > 0 && conf.ITunes.CurrentVersion != "" {
		mainDeps.Version = appinfo.NewVersionClient(nil, "", conf.ITunes.Country, conf.ITunes.AppIDs)
	}
	if conf.NoticeURL != "" {
		mainDeps.Notice = appinfo.NewNoticeClient(nil, conf.NoticeURL)
	}

	home := &feature.Home{
		Main: feature.NewMain(mainDeps),
		Meal: feature.NewMeal(feature.MealDeps{
			Clock:       clock,
			Preferences: cfg,
			Fetcher:     client,
			Allergies:   records,
		}),
		TimeTable: feature.NewTimeTable(feature.TimeTableDeps{
			Clock:       clock,
			Preferences: cfg,
			Fetcher:     client,
			Overrides:   records,
		}),
	}

	a := &app{
		cfg:      cfg,
		loc:      loc,
		clock:    clock,
		dataDir:  dataDir,
		listen:   listen,
		records:  records,
		neis:     client,
		feeds:    ics.NewFetcher(filepath.Join(dataDir, "ics-cache"), nil),
		home:     home,
		settings: feature.NewSettings(feature.SettingsDeps{Preferences: cfg, Identity: cfg}),
		widgets: &widget.Provider{
			Clock:       clock,
			Preferences: cfg,
			Meals:       client,
			TimeTables:  client,
			Overrides:   records,
			Allergies:   records,
		},
	}
	a.snapshots = a.newSnapshotter(localBaseURL(listen), filepath.Join(dataDir, "previews"), snapshotMaxAge)
	return a, nil
}

// newSnapshotter points Chromium at this server's widget pages, with the
// server's basic auth credentials when it has any.
func (a *app) newSnapshotter(baseURL, dir string, maxAge time.Duration) *capture.Snapshotter {
	snaps := capture.NewSnapshotter(baseURL, dir, maxAge)
	if auth := a.cfg.Snapshot().BasicAuth; auth != nil && auth.Username != "" && auth.Password != "" {
		snaps.SetBasicAuth(auth.Username, auth.Password)
	}
	return snaps
}

func (a *app) Close() {
	a.home.Close()
	a.settings.Close()
	if err := a.records.Close(); err != nil {
		appLog.Error("failed to close record store", err)
	}
}

func (a *app) handler() http.Handler {
	return web.NewServer(web.Deps{
		Config:     a.cfg,
		Clock:      a.clock,
		Location:   a.loc,
		Home:       a.home,
		Settings:   a.settings,
		Schools:    a.neis,
		Meals:      a.neis,
		TimeTables: a.neis,
		Records:    a.records,
		Widgets:    a.widgets,
		Snapshots:  a.snapshots,
	}).Handler()
}

// syncOverrideFeed imports the subscribed manual timetable, if any, and
// reloads the timetable screen when it changed.
func (a *app) syncOverrideFeed(ctx context.Context) {
	url := a.cfg.Snapshot().OverrideFeedURL
	if url == "" {
		return
	}
	changed, err := a.feeds.SyncOverrides(ctx, url, a.loc, a.records)
	if err != nil {
		appLog.Error("override feed sync failed", err)
		return
	}
	if changed && a.cfg.Preferences().ModifiedTimeTable {
		a.home.RefreshTimeTable(ctx)
	}
}

// serve runs the HTTP API, the periodic refresh and the one-hour horizon
// wake-ups until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	conf := a.cfg.Snapshot()

	host := schedule.NewCronHost(a.loc)
	sched := schedule.NewScheduler(host, a.clock,
		schedule.RefreshFunc(a.syncOverrideFeed),
		a.home,
	)
	host.OnWake(func(time.Time) { sched.Wake(ctx) })
	if err := host.AddPeriodic(conf.RefreshCron, func() {
		a.syncOverrideFeed(ctx)
		a.home.Refresh(ctx)
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
	}

	a.syncOverrideFeed(ctx)
	a.home.Appear()
	host.Start()
	sched.Arm()

	srv := &http.Server{
		Addr:              a.listen,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "addr", a.listen)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	host.Stop(shutdownCtx)
	return serveErr
}

type onceReport struct {
	Main            feature.MainState                      `json:"main"`
	Meal            feature.MealState                      `json:"meal"`
	TimeTable       feature.TimeTableState                 `json:"timetable"`
	WidgetMeal      widget.Timeline[widget.MealEntry]      `json:"widget_meal"`
	WidgetTimeTable widget.Timeline[widget.TimeTableEntry] `json:"widget_timetable"`
	Previews        []string                               `json:"previews,omitempty"`
}

// runOnce loads every screen and widget once, prints the states and
// optionally captures the widget previews.
func (a *app) runOnce(ctx context.Context, out io.Writer, dump bool) error {
	ctx, cancel := context.WithTimeout(ctx, onceTimeout)
	defer cancel()

	a.syncOverrideFeed(ctx)

	var report onceReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.home.Appear()
		return a.home.Settle(gctx)
	})
	g.Go(func() error {
		report.WidgetMeal = a.widgets.MealTimeline(gctx, "")
		return nil
	})
	g.Go(func() error {
		report.WidgetTimeTable = a.widgets.TimeTableTimeline(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	report.Main = a.home.Main.State()
	report.Meal = a.home.Meal.State()
	report.TimeTable = a.home.TimeTable.State()

	if dump {
		paths, err := a.dumpPreviews(ctx)
		if err != nil {
			return err
		}
		report.Previews = paths
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// dumpPreviews serves the widget pages on a loopback port just long enough
// for Chromium to capture them.
func (a *app) dumpPreviews(ctx context.Context) ([]string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: a.handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("preview server failed", err)
		}
	}()
	defer srv.Close()

	snaps := a.newSnapshotter("http://"+ln.Addr().String(), a.dataDir, 0)
	var paths []string
	for _, page := range []string{"meal", "timetable"} {
		p, err := snaps.Snapshot(ctx, page, capture.FamilyMedium)
		if err != nil {
			return paths, fmt.Errorf("capture %s: %w", page, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// localBaseURL is the loopback URL the snapshotter uses to reach the
// server's own widget pages.
func localBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
