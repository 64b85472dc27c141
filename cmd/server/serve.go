package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"persona-kb/internal/api"
	"persona-kb/internal/config"
	"persona-kb/internal/events"
	"persona-kb/internal/services"
	"persona-kb/internal/telemetry"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, processing queue and status feed",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("🚀 Starting persona knowledge service...")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Tracing first so everything after it is traced
	jaegerShutdown, err := telemetry.InitJaeger(telemetry.Options{
		ServiceName:    "persona-kb",
		ServiceVersion: version,
		Endpoint:       cfg.JaegerEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	hub := events.NewHub()
	hub.Start()

	a, err := newApp(cfg, hub)
	if err != nil {
		hub.Shutdown()
		return err
	}
	defer a.Close()

	queue := services.NewProcessingQueue(a.processor, cfg.ProcessingWorkers, cfg.ProcessingQueueSize)
	queue.Start()

	responder := a.responder()
	if responder == nil {
		log.Println("⚠️  No chat model configured, /chat will answer 503")
	}

	handler := api.NewHandler(api.Deps{
		Processor: a.processor,
		Sources:   a.sources,
		Chunks:    a.chunks,
		Queue:     queue,
		Retriever: a.retriever,
		Chat:      services.NewChatService(a.retriever, responder),
		Stats:     a.stats,
		Feed:      hub,
	})
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/personas/:id/sources     - Submit source (?process=true)")
		log.Printf("   POST   /api/sources/:id/process      - Queue processing (?sync=true)")
		log.Printf("   POST   /api/personas/:id/retrieve    - Retrieve passages")
		log.Printf("   POST   /api/personas/:id/chat        - Chat with retrieved context")
		log.Printf("   GET    /api/personas/:id/stats       - Persona knowledge stats")
		log.Printf("   GET    /api/health                   - Index health check")
		log.Printf("   GET    /ws/sources                   - Source status feed")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		log.Printf("❌ Server error: %v", err)
	}

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Waits for queued processing runs to finish
	if err := queue.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Processing queue did not drain: %v", err)
	}

	hub.Shutdown()

	log.Println("✓ Server shutdown complete")
	return nil
}
