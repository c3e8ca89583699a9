package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swtfb/internal/config"
	"swtfb/internal/ipc"
	"swtfb/internal/notify"
	"swtfb/internal/schedule"
	"swtfb/internal/server"
	"swtfb/internal/sink"
	"swtfb/internal/surface"
	"swtfb/internal/web"

	appLog "swtfb/internal/log"
)

// exitSinkInit is the status used when the display cannot be acquired.
const exitSinkInit = 255

type flagConfig struct {
	configPath   string
	sink         string
	statusListen string
	logLevel     string
}

func main() {
	appLog.Info("swtfb-server starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file.
	if flags.sink != "" {
		conf.Sink = flags.sink
	}
	if flags.statusListen != "" {
		conf.StatusListen = flags.statusListen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err)
		os.Exit(1)
	}
	applyLogLevel(conf.LogLevel)

	appLog.Info("effective config",
		"queue_key", conf.QueueKey,
		"shm", conf.ShmName,
		"width", conf.Width,
		"height", conf.Height,
		"sink", conf.Sink,
		"status_listen", conf.StatusListen,
		"ghost_purge", conf.GhostPurge,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	surf, err := surface.Open(conf.ShmDir, conf.ShmName, conf.Width, conf.Height)
	if err != nil {
		appLog.Error("failed to map shared surface", err)
		os.Exit(1)
	}
	defer surf.Close()

	queue, err := ipc.OpenQueue(conf.QueueKey)
	if err != nil {
		appLog.Error("failed to open update queue", err)
		os.Exit(1)
	}

	dev := newSink(conf, surf)
	if err := dev.Initialize(); err != nil {
		appLog.Error("failed to initialize display", err, "sink", conf.Sink)
		os.Exit(exitSinkInit)
	}

	srv := server.New(queue, dev, server.Options{SemDir: conf.SemDir})

	if err := config.Watch(ctx, flags.configPath, func(c *config.Config) {
		applyLogLevel(c.LogLevel)
	}); err != nil {
		appLog.Error("config watch disabled", err)
	}

	if conf.GhostPurge != "" {
		purger, err := schedule.NewGhostPurger(conf.GhostPurge, queue, conf.Width, conf.Height)
		if err != nil {
			appLog.Error("ghost purge disabled", err)
		} else {
			purger.Start(ctx)
		}
	}

	if conf.StatusListen != "" {
		status := web.NewServer(srv, surf)
		go func() {
			if err := status.ListenAndServe(ctx, conf.StatusListen); err != nil {
				appLog.Error("status server stopped", err)
			}
		}()
	}

	appLog.Info("waiting for updates on queue", "key", conf.QueueKey)
	if err := notify.Ready(); err != nil {
		appLog.Error("readiness notification failed", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
		_ = notify.Stopping()
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			appLog.Error("dispatch loop stopped", err)
			os.Exit(1)
		}
	}

	// The dispatch goroutine may still sit in a blocking receive; give
	// an in-flight update a moment, then exit without waiting for it.
	select {
	case <-errc:
	case <-time.After(200 * time.Millisecond):
	}
	appLog.Info("swtfb-server exiting")
}

func newSink(conf *config.Config, surf *surface.Surface) sink.Sink {
	switch conf.Sink {
	case config.SinkIT8951:
		return sink.NewIT8951(sink.IT8951Config{
			Port:         conf.SPI.Port,
			MaxHz:        conf.SPI.MaxHz,
			CSPin:        conf.SPI.CSPin,
			RSTPin:       conf.SPI.RSTPin,
			HRDYPin:      conf.SPI.HRDYPin,
			VCOM:         conf.SPI.VCOM,
			ReadyTimeout: conf.SPI.ReadyTimeout,
		}, surf)
	default:
		return sink.Logger{}
	}
}

func applyLogLevel(s string) {
	l, err := appLog.ParseLevel(s)
	if err != nil {
		appLog.Error("ignoring log level", err)
		return
	}
	if l != appLog.GetLevel() {
		appLog.SetLevel(l)
		appLog.Info("log level set", "level", l)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/swtfb/config.yaml", "Path to config file")
	flag.StringVar(&cfg.sink, "sink", "", "Device sink: log or it8951 (overrides config if set)")
	flag.StringVar(&cfg.statusListen, "status-listen", "", "Status HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")

	flag.Parse()

	return cfg
}
