package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"buf.build/go/protovalidate"
	"connectrpc.com/connect"

	"github.com/atlekbai/docql/internal/collection"
	"github.com/atlekbai/docql/internal/config"
	"github.com/atlekbai/docql/internal/db"
	"github.com/atlekbai/docql/internal/docql/pg"
	"github.com/atlekbai/docql/internal/middleware"
	"github.com/atlekbai/docql/internal/server"
	"github.com/atlekbai/docql/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := pg.NewStore(pool)
	if err := store.Bootstrap(ctx); err != nil {
		log.Fatalf("failed to bootstrap schema: %v", err)
	}

	registry := collection.NewRegistry(cfg.DefaultCollection)
	if err := registry.Load(ctx, pool); err != nil {
		log.Fatalf("failed to load collections: %v", err)
	}
	log.Printf("collection registry loaded: %d collections", registry.Count())

	validator, err := protovalidate.New()
	if err != nil {
		log.Fatalf("failed to create validator: %v", err)
	}

	interceptors := []connect.Interceptor{
		server.LoggingInterceptor(),
		server.ValidationInterceptor(validator, service.RequestShape),
	}

	services := []server.ConnectService{
		service.NewDocumentService(store, registry, pg.Translate),
	}

	handler, err := server.NewHandler(services, interceptors...)
	if err != nil {
		log.Fatalf("failed to build handler: %v", err)
	}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: middleware.Chain(handler, middleware.Recovery, middleware.Logging),
	}

	go func() {
		<-ctx.Done()
		log.Println("shutting down...")
		srv.Shutdown(context.Background())
	}()

	log.Printf("listening on %s", cfg.Addr())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
