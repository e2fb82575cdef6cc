//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package main runs the xpert runtime server: it loads assistant
// definitions, wires the model, checkpoints, plugins and the execution
// ledger, and serves the HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
	checkpointinmemory "trpc.group/trpc-go/trpc-xpert-go/graph/checkpoint/inmemory"
	checkpointsqlite "trpc.group/trpc-go/trpc-xpert-go/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/trpc-xpert-go/ledger"
	ledgerinmemory "trpc.group/trpc-go/trpc-xpert-go/ledger/inmemory"
	ledgersqlite "trpc.group/trpc-go/trpc-xpert-go/ledger/sqlite"
	"trpc.group/trpc-go/trpc-xpert-go/log"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/model/openai"
	"trpc.group/trpc-go/trpc-xpert-go/plugin"
	"trpc.group/trpc-go/trpc-xpert-go/runner"
	"trpc.group/trpc-go/trpc-xpert-go/server"
	storeinmemory "trpc.group/trpc-go/trpc-xpert-go/store/inmemory"
	threadinmemory "trpc.group/trpc-go/trpc-xpert-go/thread/inmemory"
	"trpc.group/trpc-go/trpc-xpert-go/xpert"
)

func main() {
	cfg := loadConfig()
	log.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer shutdownTracing()

	registry := xpert.NewRegistry()
	if err := loadXperts(registry, cfg.XpertsDir); err != nil {
		log.Fatalf("load assistants: %v", err)
	}

	plugins, err := plugin.LoadFromEnv()
	if err != nil {
		log.Fatalf("load plugins: %v", err)
	}
	for _, ts := range plugin.Toolsets(plugins) {
		registry.RegisterToolset(ts)
	}

	saver, ledgerService, closeDB, err := openStorage(cfg.CheckpointDB)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer closeDB()

	threads := threadinmemory.NewService()
	memory := storeinmemory.New()

	compileOpts := []xpert.CompileOption{
		xpert.WithModel(newModel(cfg, cfg.OpenAIModel)),
		xpert.WithModelResolver(func(name string) (model.Model, error) {
			return newModel(cfg, name), nil
		}),
		xpert.WithLedger(ledgerService),
	}
	if mws := plugin.Middlewares(plugins); len(mws) > 0 {
		compileOpts = append(compileOpts, xpert.WithMiddlewares(mws...))
	}

	run := runner.New(registry,
		runner.WithThreadService(threads),
		runner.WithCheckpointSaver(saver),
		runner.WithStore(memory),
		runner.WithCompileOptions(compileOpts...),
		runner.WithDefaultTimeout(cfg.RunTimeout),
	)

	srv := server.New(
		server.WithRunner(run),
		server.WithThreadService(threads),
		server.WithRegistry(registry),
		server.WithStore(memory),
		server.WithCheckpointSaver(saver),
		server.WithAPIKeys(cfg.APIKeys...),
		server.WithSessionSecret(cfg.SessionSecret),
		server.WithCORSOrigins(cfg.CORSOrigins...),
	)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("xpertd listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// loadXperts registers every definition file in dir. A missing directory
// starts an empty registry, which the API can still serve.
func loadXperts(registry *xpert.Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("assistant directory %s does not exist, starting empty", dir)
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}
		x, err := xpert.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := registry.Add(x); err != nil {
			return err
		}
		log.Infof("loaded assistant %s (%s)", x.Slug, x.ID)
	}
	return nil
}

func newModel(cfg config, name string) model.Model {
	var opts []openai.Option
	if cfg.OpenAIAPIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return openai.New(name, opts...)
}

// openStorage backs checkpoints and the ledger with sqlite when a path
// is configured, in-memory otherwise.
func openStorage(path string) (graph.CheckpointSaver, ledger.Service, func(), error) {
	if path == "" {
		return checkpointinmemory.NewSaver(), ledgerinmemory.NewService(), func() {}, nil
	}
	db, err := ledgersqlite.OpenDB(path)
	if err != nil {
		return nil, nil, nil, err
	}
	saver, err := checkpointsqlite.NewSaver(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	ledgerService, err := ledgersqlite.NewService(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Warnf("close database: %v", err)
		}
	}
	return saver, ledgerService, closeDB, nil
}

// setupTracing wires the otlp http exporter when an endpoint is
// configured through the standard OTEL_EXPORTER_OTLP_* variables.
func setupTracing(ctx context.Context) (func(), error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" &&
		os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
		return func() {}, nil
	}
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "xpertd"),
	))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown tracer provider: %v", err)
		}
	}, nil
}
