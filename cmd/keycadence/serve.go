package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"keycadence/internal/calibration"
	"keycadence/internal/clock"
	"keycadence/internal/config"
	"keycadence/internal/detector"
	"keycadence/internal/health"
	"keycadence/internal/logging"
	"keycadence/internal/metrics"
	"keycadence/internal/observer"
	"keycadence/internal/synth"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// cmdServe exposes Prometheus metrics while simulated typists feed
// detectors in real time. Each session uses the deferred scheduler exactly
// as an embedding host would.
func cmdServe(args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Metrics.ListenAddr, "metrics listen address")
	sessions := fs.Int("sessions", 4, "concurrent simulated sessions")
	keystrokes := fs.Int("keystrokes", 150, "keystrokes per session")
	speed := fs.Float64("speed", 1, "replay speed multiplier")
	profiles := fs.String("profiles", "human,fast-human,constant,uniform,gaussian", "comma-separated profiles")
	fs.Parse(args)

	names := splitList(*profiles)
	for _, name := range names {
		if _, err := synth.Lookup(name); err != nil {
			return err
		}
	}
	if len(names) == 0 || *sessions < 1 || *keystrokes < 1 || *speed <= 0 {
		return errors.New("serve needs at least one profile, session and keystroke, and a positive speed")
	}

	log := logging.Default().WithComponent("serve")

	m, err := metrics.New(cfg.Metrics.Namespace)
	if err != nil {
		return err
	}

	// The detector config is swapped on reload; running sessions keep the
	// config they started with.
	var mu sync.Mutex
	dcfg, err := detector.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	current := func() detector.Config {
		mu.Lock()
		defer mu.Unlock()
		return dcfg
	}

	checker := health.NewChecker()
	checker.Register("scoring", true, health.ErrorCheck("human and scripted profiles separate",
		func(ctx context.Context) error { return calibration.SelfTest(ctx, current().Scoring) }))
	checker.Register("metrics", false, health.ErrorCheck("registry gathers",
		func(context.Context) error {
			_, err := m.Registry().Gather()
			return err
		}))

	if path != "" {
		var reloadMu sync.Mutex
		var reloadErr error
		checker.Register("config", false, health.ErrorCheck("watching "+path,
			func(context.Context) error {
				reloadMu.Lock()
				defer reloadMu.Unlock()
				return reloadErr
			}))

		loader := config.NewLoader(path)
		defer loader.Close()
		if _, err := loader.Load(); err != nil {
			return err
		}
		loader.OnChange(func(c *config.Config) {
			next, err := detector.ConfigFrom(c)
			reloadMu.Lock()
			reloadErr = err
			reloadMu.Unlock()
			if err != nil {
				log.Warn("ignoring reloaded config", "error", err)
				return
			}
			mu.Lock()
			dcfg = next
			mu.Unlock()
			log.Info("config reloaded", "path", path)
		})
		if err := loader.Watch(); err != nil {
			return err
		}
		go func() {
			for err := range loader.Errors() {
				reloadMu.Lock()
				reloadErr = err
				reloadMu.Unlock()
				log.Warn("config reload failed", "error", err)
			}
		}()
	}

	ctx, stop := signalContext()
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/readyz", checker.ReadyHandler())
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	checker.Run(ctx)
	checker.SetReady(true)
	log.Info("health checks registered", "checks", checker.Names(), "status", string(checker.Overall()))

	var wg sync.WaitGroup
	for i := 0; i < *sessions; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			for ctx.Err() == nil {
				p, _ := synth.Lookup(names[rng.Intn(len(names))])
				runSession(ctx, log, m, current(), p, *keystrokes, rng.Int63(), *speed)
			}
		}(i)
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		stop()
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

func runSession(ctx context.Context, log *logging.Logger, m *metrics.Metrics, cfg detector.Config,
	p synth.Profile, keystrokes int, seed int64, speed float64) {

	src := observer.NewSimulatedSource()
	clk := clock.NewMonotonic()
	d, err := detector.New(src, cfg,
		detector.WithLogger(log),
		detector.WithMetrics(m),
		detector.WithClock(clk),
	)
	if err != nil {
		log.Error("create detector", "error", err)
		return
	}
	defer d.Destroy()
	if err := d.Start(); err != nil {
		log.Error("start detector", "error", err)
		return
	}

	events := synth.Generate(p, keystrokes, seed)
	if !replayPaced(ctx, src, clk, events, speed) {
		return
	}

	res := d.Analyze()
	log.Info("session finished",
		"session_id", d.SessionID(),
		"profile", p.Name,
		"score", res.Score,
		"classification", string(res.Classification),
	)
}

// replayPaced re-stamps events onto clk and delivers them with their
// original spacing divided by speed. It returns false if ctx ends first.
func replayPaced(ctx context.Context, src *observer.SimulatedSource, clk clock.Clock,
	events []observer.Event, speed float64) bool {

	if len(events) == 0 {
		return true
	}
	origin := events[0].Timestamp
	base := clk.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for _, ev := range events {
		due := base + (ev.Timestamp-origin)/speed
		if wait := due - clk.Now(); wait > 0 {
			timer.Reset(time.Duration(wait * float64(time.Millisecond)))
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
		ev.Timestamp = due
		src.Emit(ev)
	}
	return true
}
