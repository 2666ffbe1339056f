package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chirpaudio/audiod/engine"
	"github.com/chirpaudio/audiod/internal/netutils"
	"github.com/chirpaudio/audiod/internal/version"
	"github.com/chirpaudio/audiod/lockfile"
	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/rpcserver"
	"golang.org/x/sync/errgroup"
)

func _main() error {
	// flags and settings
	cfg, err := ObtainSettings()
	if err != nil {
		return err
	}
	cfg.Versioner = version.String

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for termination signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		cancel()
	}()

	logBknd, err := newLogBackend(cfg.LogFile, cfg.DebugLevel, cfg.LogStdOut)
	if err != nil {
		return err
	}
	log := logBknd.logger("AUDD")
	log.Infof("audiod %s starting", version.String())

	// Profiler
	if cfg.Profiler != "" {
		log.Infof("Profiler enabled on http://%v/debug/pprof", cfg.Profiler)
		go http.ListenAndServe(cfg.Profiler, nil)
	}

	// Only one daemon instance may use the root dir.
	lf, err := lockfile.Acquire(ctx, filepath.Join(cfg.Root, "audiod.lock"))
	if err != nil {
		return fmt.Errorf("unable to acquire daemon lock: %w", err)
	}
	defer lf.Close()

	// Backend adapters. The platform adapters register themselves here;
	// without an audio server both slots run the null adapter.
	var post func(func())
	legacy := mixer.NewNullBackend(mixer.LegacyBackend,
		func(f func()) { post(f) }, logBknd.logger("MIXR"))
	modern := mixer.NewNullBackend(mixer.ModernBackend,
		func(f func()) { post(f) }, logBknd.logger("MIXR"))

	e, err := engine.New(engine.Config{
		Settings: cfg,
		Legacy:   legacy,
		Modern:   modern,
		Logger:   logBknd.logger,
	})
	if err != nil {
		return err
	}
	post = e.Post

	listeners, err := netutils.ListenAll(cfg.Listen)
	if err != nil {
		return err
	}

	srv := rpcserver.NewServer(
		rpcserver.WithListeners(listeners),
		rpcserver.WithServerLog(logBknd.logger("RPCS")),
		rpcserver.WithDispatcher(e.Post),
		rpcserver.WithDomain(e.Mixer(), e.Policy(), e.State()),
	)
	e.State().SetProfileCallback(srv.NotifyProfileChanged)

	legacy.Start(e.Mixer().EventSink(mixer.LegacyBackend))
	modern.Start(e.Mixer().EventSink(mixer.ModernBackend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
