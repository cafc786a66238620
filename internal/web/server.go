// Package web serves the screen states, settings, widget timelines and the
// calendar feed to the phone, widget, watch and desktop clients.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"todaywhat/internal/capture"
	"todaywhat/internal/config"
	"todaywhat/internal/feature"
	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
	"todaywhat/internal/widget"
)

// RecordStore is the local record store as the API uses it.
type RecordStore interface {
	ReadOverrides(ctx context.Context) ([]model.ManualOverride, error)
	ReplaceOverrides(ctx context.Context, overrides []model.ManualOverride) ([]model.ManualOverride, error)
	ReadAllergies(ctx context.Context) ([]model.Allergy, error)
	SaveAllergies(ctx context.Context, allergies []model.Allergy) error
	ReplaceMajors(ctx context.Context, majors []string) error
	ReadMajors(ctx context.Context) ([]string, error)
}

// Deps wires the server. Snapshots may be nil.
type Deps struct {
	Config     *config.Store
	Clock      schedule.Clock
	Location   *time.Location
	Home       *feature.Home
	Settings   *feature.SettingsFeature
	Schools    feature.SchoolFetcher
	Meals      feature.MealFetcher
	TimeTables feature.TimeTableFetcher
	Records    RecordStore
	Widgets    *widget.Provider
	Snapshots  *capture.Snapshotter

	// SettleTimeout bounds how long refresh endpoints wait for new data.
	SettleTimeout time.Duration
}

// Server provides the HTTP API.
type Server struct {
	Deps
	mux *http.ServeMux

	// Short-lived caches for the endpoints that fan out to NEIS.
	calendarMu    sync.RWMutex
	calendarCache *calendarEntry

	weekMu    sync.RWMutex
	weekCache map[string]*weekEntry
}

type calendarEntry struct {
	body      string
	updatedAt time.Time
}

type weekEntry struct {
	resp      weekResponse
	updatedAt time.Time
}

func NewServer(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.SettleTimeout <= 0 {
		deps.SettleTimeout = 10 * time.Second
	}
	s := &Server{
		Deps:      deps,
		mux:       http.NewServeMux(),
		weekCache: make(map[string]*weekEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, behind basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if user, pass, ok := s.basicAuth(); ok {
		appLog.Info("HTTP basic auth enabled")
		return basicAuthMiddleware(h, user, pass)
	}
	return h
}

func (s *Server) basicAuth() (string, string, bool) {
	cfg := s.Config.Snapshot()
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return "", "", false
	}
	return cfg.BasicAuth.Username, cfg.BasicAuth.Password, true
}

// basicAuthMiddleware guards every path except /health.
func basicAuthMiddleware(next http.Handler, username, password string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="TodayWhat", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/main", s.handleMain)
	s.mux.HandleFunc("POST /api/main/notice/dismiss", s.handleNoticeDismiss)
	s.mux.HandleFunc("GET /api/meal", s.handleMeal)
	s.mux.HandleFunc("POST /api/meal/refresh", s.handleMealRefresh)
	s.mux.HandleFunc("GET /api/timetable", s.handleTimeTable)
	s.mux.HandleFunc("POST /api/timetable/refresh", s.handleTimeTableRefresh)
	s.mux.HandleFunc("GET /api/timetable/week", s.handleWeek)

	s.mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	s.mux.HandleFunc("PUT /api/preferences", s.handlePutPreferences)
	s.mux.HandleFunc("GET /api/overrides", s.handleGetOverrides)
	s.mux.HandleFunc("PUT /api/overrides", s.handlePutOverrides)
	s.mux.HandleFunc("POST /api/overrides/import", s.handleImportOverrides)
	s.mux.HandleFunc("GET /api/allergies", s.handleGetAllergies)
	s.mux.HandleFunc("PUT /api/allergies", s.handlePutAllergies)

	s.mux.HandleFunc("GET /api/schools", s.handleSearchSchools)
	s.mux.HandleFunc("GET /api/schools/majors", s.handleMajors)
	s.mux.HandleFunc("PUT /api/school", s.handlePutSchool)
	s.mux.HandleFunc("GET /api/watch/identity", s.handleWatchIdentity)

	s.mux.HandleFunc("GET /api/widget/meal", s.handleWidgetMeal)
	s.mux.HandleFunc("GET /api/widget/timetable", s.handleWidgetTimeTable)
	s.mux.HandleFunc("GET /widget/meal", s.handleWidgetMealPage)
	s.mux.HandleFunc("GET /widget/timetable", s.handleWidgetTimeTablePage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// settle waits for screen effects, bounded by SettleTimeout.
func (s *Server) settle(ctx context.Context, settle func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, s.SettleTimeout)
	defer cancel()
	if err := settle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("refresh did not settle in time", err)
	}
}

func (s *Server) today() time.Time {
	return s.Clock.Now().In(s.Location)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
