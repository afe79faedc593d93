package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ligustah/folio/internal/api"
	"github.com/ligustah/folio/internal/jobs"
	"github.com/ligustah/folio/internal/library"
)

// runServe runs the HTTP job API until interrupted. Running jobs are
// cancelled on shutdown and keep their checkpoints.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (default from config, :3000)")
	s := registerSettings(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: folio serve [options]

Run the HTTP job API: start, resume and cancel downloads, browse the output
directory and stream progress events.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := s.resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.CheckpointBucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer closeStore()

	logger := log.New(os.Stderr, "[folio] ", log.LstdFlags)
	if !cfg.Verbose && os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := cfg.DownloadOptions()
	opts.Store = store
	manager := jobs.NewManager(opts, logger)
	router := api.NewRouter(manager, library.New(cfg.OutputDir, store), api.Options{
		AllowOrigins: cfg.Server.AllowOrigins,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with ctx so Shutdown does not wait on them.
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting API server on %s (output: %s)", cfg.Server.Addr, cfg.OutputDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server stopped: %v", err)
			return ExitGeneralError
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Printf("jobs did not stop in time: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown: %v", err)
		return ExitGeneralError
	}
	return ExitSuccess
}
