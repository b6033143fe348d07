package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/olivestudio/leadrecon/internal/api"
	"github.com/olivestudio/leadrecon/internal/datanorm"
)

// Server builds the API server for the app.
func (a *App) Server() *api.Server {
	cfg := a.Config
	h := api.NewHandlers(a.Runner, api.Options{
		SheetURL:    cfg.Sheets.URL,
		SortColumn:  datanorm.DefaultSchema().CreatedAt,
		SheetName:   cfg.Export.SheetName,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		Gatherer:    a.Registry,
	})
	return api.NewServer(cfg.Server, h)
}

// Serve runs the API, and optionally the watcher, until ctx is cancelled.
func (a *App) Serve(ctx context.Context, watch bool) error {
	server := a.Server()
	addr := a.Config.Server.Addr()

	if watch {
		go func() {
			if err := a.Watcher().Watch(ctx); err != nil {
				log.Printf("[watch] stopped: %v", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	a.Runner.Wait()
	log.Println("Server stopped")
	return nil
}
