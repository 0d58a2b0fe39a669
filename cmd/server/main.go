package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/astromechza/textsync/pkg/config"
	"github.com/astromechza/textsync/pkg/engine"
	"github.com/astromechza/textsync/pkg/hub"
	"github.com/astromechza/textsync/pkg/persist"
)

func main() {
	if err := mainInner(); err != nil {
		if errors.Is(err, config.ErrGenerated) {
			return
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}
	log := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rooms := hub.NewRooms()
	eng := engine.New(engine.Options{
		SnapshotInterval: cfg.History.SnapshotInterval,
		RetainOps:        cfg.History.RetainOps,
		Broadcaster:      rooms,
		Logger:           log,
	})
	defer eng.Close()

	var backend persist.Backend
	if cfg.Storage.Driver != "" {
		if backend, err = persist.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN); err != nil {
			return err
		}
		defer backend.Close()
		if err := persist.Load(ctx, eng, backend, log); err != nil {
			return fmt.Errorf("failed to load documents: %w", err)
		}
	} else {
		log.Warn("No storage driver configured, documents are kept in memory only")
	}

	h := hub.New(eng, rooms, hub.Options{SendBuffer: cfg.SendBuffer, Logger: log})
	r := mux.NewRouter()
	r.Use(hub.LoggingMiddleware(log))
	h.Routes(r)

	wg := new(sync.WaitGroup)

	if backend != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(cfg.Storage.BackupInterval)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					if _, err := persist.Backup(ctx, eng, backend, log); err != nil {
						log.Error("failed to backup", "err", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: r}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		log.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	if backend != nil {
		// The run context is gone, so the final backup gets its own deadline.
		finalCtx, finalCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer finalCancel()
		saved, err := persist.Backup(finalCtx, eng, backend, log)
		if err != nil {
			return fmt.Errorf("failed final backup: %w", err)
		}
		log.Info("Final backup complete", "documents", saved)
	}
	return nil
}
