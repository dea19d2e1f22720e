package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"blinkscan/internal/api"
	"blinkscan/internal/config"
	"blinkscan/internal/dbusbridge"
	"blinkscan/internal/feed"
	"blinkscan/internal/health"
	"blinkscan/internal/ime"
	"blinkscan/internal/instance"
	"blinkscan/internal/logging"
	"blinkscan/internal/metrics"
	"blinkscan/internal/pipeline"
	"blinkscan/internal/predict"
	"blinkscan/internal/store"
)

// frameStaleAfter degrades /health when no landmark frame has arrived.
const frameStaleAfter = 10 * time.Second

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	listen := fs.String("listen", "", "HTTP listen address (overrides config)")
	fs.Parse(args)

	if _, err := config.LoadDotEnv(); err != nil {
		return err
	}

	loader := config.NewLoader(*cfgPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listen != "" {
		cfg.API.ListenAddr = *listen
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.FromConfig(&cfg.Logging))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	lock, err := instance.Acquire(config.LockPath())
	if err != nil {
		if errors.Is(err, instance.ErrLocked) {
			if pid, perr := instance.Owner(config.LockPath()); perr == nil {
				return fmt.Errorf("blinkscan is already running (pid %d)", pid)
			}
		}
		return err
	}
	defer lock.Release()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	loader.OnChange(func(_, next *config.Config) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.pipeline.ApplyConfig(ctx, next); err != nil {
			logger.Error("config reload rejected", "error", err)
		}
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	} else {
		defer loader.Close()
		go func() {
			for err := range loader.Errors() {
				logger.Warn("config reload failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("blinkscan starting",
		"version", version,
		"config", loader.Path(),
		"period", cfg.ScanPeriod(),
	)
	return d.serve(ctx, cfg)
}

// daemon holds everything run wires together.
type daemon struct {
	logger      *logging.Logger
	registry    *metrics.Registry
	metrics     *metrics.Blinkscan
	store       *store.Store
	writer      *store.Writer
	transcripts *ime.TranscriptStorage
	pipeline    *pipeline.Pipeline
	hub         *feed.ViewHub
	landmarks   *feed.Handler
	health      *health.Checker
	bus         *dbusbridge.Conn
}

func newDaemon(cfg *config.Config, logger *logging.Logger) (*daemon, error) {
	d := &daemon{logger: logger}
	d.registry = metrics.NewRegistry(cfg.Metrics.Namespace)
	d.metrics = metrics.New(d.registry)

	if cfg.Storage.Enabled {
		st, err := store.Open(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		d.store = st
		d.writer = store.NewWriter(st, cfg.Storage.QueueSize, logger.WithComponent("store").Logger, d.metrics)
		if d.transcripts, err = ime.NewTranscriptStorage(cfg.Storage.TranscriptsDir); err != nil {
			d.close()
			return nil, fmt.Errorf("transcripts: %w", err)
		}
	}

	predictor, err := buildPredictor(cfg, d.store)
	if err != nil {
		d.close()
		return nil, err
	}

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  filepath.Join(config.DataDir(), "crashes"),
		Version:   version,
		Component: "pipeline",
		Logger:    logger,
	})

	d.pipeline, err = pipeline.New(pipeline.Options{
		Config:      cfg,
		Logger:      logger.WithComponent("pipeline").Logger,
		Metrics:     d.metrics,
		Predictor:   predictor,
		Writer:      d.writer,
		Transcripts: d.transcripts,
		Crash:       crash,
		Source:      "websocket",
	})
	if err != nil {
		d.close()
		return nil, err
	}

	feedOpts := feed.Options{
		MaxMessageBytes: cfg.Feed.MaxMessageBytes,
		ReadTimeout:     time.Duration(cfg.Feed.ReadTimeoutMs) * time.Millisecond,
		PingInterval:    time.Duration(cfg.Feed.PingIntervalMs) * time.Millisecond,
	}
	feedLogger := logger.WithComponent("feed").Logger
	d.hub = feed.NewViewHub(feedOpts, feedLogger, d.metrics)
	d.landmarks = feed.NewHandler(d.pipeline, feedOpts, feedLogger, d.metrics)
	d.pipeline.AddObserver(pipeline.ObserverFunc(func(ev pipeline.Event) {
		if err := d.hub.Publish(ev.View); err != nil {
			feedLogger.Debug("publish view failed", "error", err)
		}
	}))

	if cfg.DBus.Enabled {
		bus, err := dbusbridge.Connect(d.pipeline, cfg.DBus.BusName, cfg.DBus.ObjectPath, logger.Logger)
		if err != nil {
			logger.Warn("d-bus bridge unavailable", "error", err)
		} else {
			d.bus = bus
			d.pipeline.AddObserver(bus)
		}
	}

	d.health = health.NewChecker()
	d.health.RegisterFunc("pipeline", true, health.LoopCheck(d.pipeline.Done()))
	if d.store != nil {
		d.health.RegisterFunc("database", true, health.DatabaseCheck(d.store.Ping))
	}
	d.health.RegisterFunc("landmarks", false, health.FreshnessCheck("landmark frame", d.pipeline.LastFrameAt, frameStaleAfter))

	return d, nil
}

// buildPredictor merges the built-in vocabulary, the custom vocabulary file
// and words learned in earlier sessions.
func buildPredictor(cfg *config.Config, st *store.Store) (*predict.Predictor, error) {
	if !cfg.Predict.Enabled {
		return nil, nil
	}
	p := predict.New()
	if cfg.Predict.VocabularyPath != "" {
		v, err := predict.LoadVocabulary(cfg.Predict.VocabularyPath)
		if err != nil {
			return nil, fmt.Errorf("vocabulary: %w", err)
		}
		p.Merge(v)
	}
	if st != nil {
		words, err := st.LearnedWords(0)
		if err != nil {
			return nil, fmt.Errorf("learned words: %w", err)
		}
		if len(words) > 0 {
			v := &predict.Vocabulary{WordFrequencies: make(map[string]int, len(words))}
			for _, w := range words {
				v.WordFrequencies[w.Word] = w.Frequency
			}
			p.Merge(v)
		}
	}
	return p, nil
}

func (d *daemon) serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := d.pipeline.Run(ctx); err != nil {
			errCh <- fmt.Errorf("pipeline: %w", err)
		}
	}()

	var srv *api.Server
	if cfg.API.Enabled {
		opts := api.Options{
			Controller: d.pipeline,
			Landmarks:  d.landmarks,
			View:       d.hub,
			Health:     d.health,
			Logger:     d.logger,
		}
		if d.store != nil {
			opts.Sessions = d.store
		}
		if cfg.Metrics.Enabled {
			opts.Metrics = d.registry
		}
		srv = api.New(opts)
		go func() {
			if err := srv.ListenAndServe(cfg.API.ListenAddr); err != nil {
				errCh <- err
			}
		}()
	}
	d.health.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down")
	case runErr = <-errCh:
		d.logger.Error("daemon failed", "error", runErr)
	}
	d.health.SetReady(false)

	timeout := time.Duration(cfg.API.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutCtx, shutCancel := context.WithTimeout(context.Background(), timeout)
	defer shutCancel()

	if srv != nil {
		if err := srv.Shutdown(shutCtx); err != nil {
			d.logger.Warn("http shutdown", "error", err)
		}
	}
	d.hub.Close()

	cancel()
	select {
	case <-d.pipeline.Done():
	case <-shutCtx.Done():
		d.logger.Warn("pipeline did not stop in time")
	}

	if d.writer != nil {
		if err := d.writer.Close(shutCtx); err != nil {
			d.logger.Warn("store writer did not drain", "error", err)
		}
		d.writer = nil
	}
	return runErr
}

func (d *daemon) close() {
	if d.bus != nil {
		d.bus.Close()
		d.bus = nil
	}
	if d.writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		d.writer.Close(ctx)
		cancel()
		d.writer = nil
	}
	if d.store != nil {
		d.store.Close()
		d.store = nil
	}
}
