package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"energy_prices/internal/app"
	"energy_prices/internal/config"
	"energy_prices/internal/model"
	"energy_prices/internal/scheduler"
	"energy_prices/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML config file (optional)")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	refreshOnStart := flag.Bool("refresh-on-start", false, "refresh the current year once at startup")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("Warning: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set up WebSocket hub; window progress of every fetch is broadcast
	hub := ws.NewHub()
	bridge := ws.NewBridge(hub)

	a, err := app.Open(ctx, cfg, app.Options{Observer: bridge})
	if err != nil {
		log.Fatalf("Setting up: %v", err)
	}
	defer a.Close()

	sched := scheduler.NewScheduler(ctx, a.Cache, a.Location)
	sched.OnRefresh = bridge.OnRefresh
	if err := sched.Register(cfg.Server.RefreshCron); err != nil {
		log.Fatalf("Scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()
	if *refreshOnStart {
		go sched.RunNow()
	}

	handler := ws.NewHandler(hub, a.Builder, a.Cache, ws.DataLoadedPayload{
		Country:  cfg.Entsoe.Country,
		Timezone: a.Location.String(),
		Kinds:    []string{string(model.KindDayAhead), string(model.KindImbalance)},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(handler, a.Cache),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down")
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Print(err)
	}
}

type entryLister interface {
	Entries(ctx context.Context) ([]model.CacheEntry, error)
}

func newMux(wsHandler http.Handler, entries entryLister) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /api/cache", func(w http.ResponseWriter, r *http.Request) {
		list, err := entries.Entries(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		payload := ws.CacheStatusPayload{Entries: make([]ws.CacheEntryInfo, 0, len(list))}
		for _, e := range list {
			payload.Entries = append(payload.Entries, ws.CacheEntryFromModel(e))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding cache status: %v", err)
		}
	})
	mux.Handle("/ws", wsHandler)
	return mux
}
