package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dgallion1/docpress/internal/api"
	"github.com/dgallion1/docpress/internal/config"
	"github.com/dgallion1/docpress/internal/diagram"
	"github.com/dgallion1/docpress/internal/highlight"
	"github.com/dgallion1/docpress/internal/inflight"
	"github.com/dgallion1/docpress/internal/mailbox"
	"github.com/dgallion1/docpress/internal/mathtex"
	"github.com/dgallion1/docpress/internal/pipeline"
	"github.com/dgallion1/docpress/internal/render"
	"github.com/dgallion1/docpress/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug("maxprocs", "msg", format, "args", args)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	var diagrams diagram.Renderer
	var mermaid *diagram.Mermaid
	if cfg.DiagramsEnabled {
		mermaid = diagram.NewMermaid(diagram.MermaidOptions{
			BrowserBin: cfg.BrowserBin,
			ScriptURL:  cfg.MermaidScriptURL,
			Timeout:    cfg.DiagramTimeout,
			PoolSize:   cfg.DiagramPoolSize,
		})
		diagrams = mermaid
	}

	renderer := render.New(render.Config{
		Highlighter: highlight.NewChroma(highlight.Options{
			Theme:   cfg.HighlightTheme,
			Classes: cfg.HighlightClasses,
		}),
		Typesetter:   mathtex.MathML{},
		Diagrams:     diagrams,
		Settings:     &cfg,
		MinHeadings:  cfg.SectionMinHeadings,
		Theme:        cfg.HighlightTheme,
		InlineStyles: !cfg.HighlightClasses,
		Logger:       log,
	})

	worker := pipeline.NewWorker(db, renderer, mailbox.NewRegistry(log), inflight.NewRegistry(), log)
	orch := pipeline.NewOrchestrator(cfg, worker, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, db, renderer, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if mermaid != nil {
			_ = mermaid.Close()
		}
		_ = db.Close()
	}()

	log.Info("starting docpress",
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"diagrams", cfg.DiagramsEnabled,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
