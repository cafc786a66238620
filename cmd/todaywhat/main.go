package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"todaywhat/internal/config"
	appLog "todaywhat/internal/log"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	platform   string
	once       bool
	dump       bool
	debug      bool
}

func main() {
	os.Exit(run(parseFlags()))
}

// run returns the process exit code so deferred cleanup runs before exit.
func run(flags flagConfig) int {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}

	level := conf.Log.Level
	if flags.debug {
		level = "debug"
	}
	appLog.Configure(conf.Log.Format, level)
	defer appLog.Sync()

	appLog.Info("todaywhat starting", "version", version)
	appLog.Info("effective config",
		"listen", flags.listenAddr(conf.Listen),
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"data_dir", conf.DataDir,
		"school", conf.School.School.Name,
		"override_feed", conf.OverrideFeedURL != "",
		"once", flags.once,
		"dump", flags.dump,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(config.NewStore(flags.configPath, conf), flags)
	if err != nil {
		appLog.Error("failed to initialize", err)
		return 1
	}
	defer a.Close()

	if flags.once {
		if err := a.runOnce(ctx, os.Stdout, flags.dump); err != nil {
			appLog.Error("single-shot run failed", err)
			return 1
		}
		return 0
	}

	if err := a.serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("server stopped", err)
		return 1
	}
	appLog.Info("todaywhat exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/todaywhat/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.platform, "platform", "macos", "Platform whose App Store version is checked")
	flag.BoolVar(&cfg.once, "once", false, "Load every screen once, print the states as JSON and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "With -once, also write widget PNG previews to the data dir")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and ./cache as the data dir")

	flag.Parse()

	return cfg
}

// listenAddr is the -listen override or the configured address. The
// override never reaches the stored config, so saving preferences keeps
// the file's own value.
func (f flagConfig) listenAddr(configured string) string {
	if f.listen != "" {
		return f.listen
	}
	return configured
}

// resolveLocationOrLocal returns the named zone, or the local one when
// the name is empty or unknown.
func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("unknown timezone, using local", err, "timezone", name)
		return time.Local
	}
	return loc
}
