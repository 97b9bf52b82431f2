package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/perimeter.watch/internal/alert"
	"github.com/banshee-data/perimeter.watch/internal/api"
	"github.com/banshee-data/perimeter.watch/internal/config"
	"github.com/banshee-data/perimeter.watch/internal/httputil"
	"github.com/banshee-data/perimeter.watch/internal/monitoring"
	"github.com/banshee-data/perimeter.watch/internal/pipeline"
	"github.com/banshee-data/perimeter.watch/internal/rules"
	"github.com/banshee-data/perimeter.watch/internal/store"
	"github.com/banshee-data/perimeter.watch/internal/timeutil"
	"github.com/banshee-data/perimeter.watch/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "perimeter.db", "SQLite database path")
	configPath  = flag.String("config", "", "Tuning config JSON path (optional)")
	cameras     = flag.String("cameras", "", "Comma-separated camera IDs to register at startup")
	diagLog     = flag.Bool("diag", false, "Enable the diag log stream")
	traceLog    = flag.Bool("trace", false, "Enable the trace log stream (noisy)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("perimeter-watch %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	writers := pipeline.LogWriters{Ops: os.Stderr}
	if *diagLog {
		writers.Diag = os.Stderr
	}
	if *traceLog {
		writers.Trace = os.Stderr
	}
	pipeline.SetLogWriters(writers)

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	clock := timeutil.RealClock{}
	httpClient := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})

	dispatcher := alert.NewDispatcher(
		alert.DispatcherConfig{
			QueueSize:   cfg.GetDispatchQueueSize(),
			Workers:     cfg.GetDispatchWorkers(),
			MaxAttempts: cfg.GetMaxDispatchAttempts(),
			BackoffBase: cfg.GetBackoffBase(),
		},
		clock,
		[]alert.Channel{
			alert.NewWebhookChannel(httpClient),
			alert.NewEmailChannel(nil),
			alert.NewSMSChannel(httpClient),
			alert.NewRecordChannel(st),
		},
		func(a alert.Alert) {
			if err := st.SaveAlert(a); err != nil {
				monitoring.Logf("failed to persist alert %s: %v", a.ID, err)
			}
		},
	)
	dispatcher.Start()

	engine := rules.NewEngine(dispatcher.ChannelTypes())
	manager := pipeline.NewManager(cfg, clock, engine, dispatcher, st)

	if *cameras != "" {
		for _, id := range splitList(*cameras) {
			if err := manager.AddCamera(id); err != nil {
				log.Fatalf("Failed to register camera %q: %v", id, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(manager, engine, st, cfg, clock)
	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(apiServer.ServeMux()),
	}

	go func() {
		log.Printf("perimeter-watch %s listening on %s", version.Version, *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop the frame loops first so no new alerts are enqueued, then
	// drain the dispatcher.
	manager.Stop()
	dispatcher.Stop()
	log.Println("shutdown complete")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
