package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/docchat/internal/api"
	"github.com/MikeSquared-Agency/docchat/internal/backend"
	"github.com/MikeSquared-Agency/docchat/internal/config"
	"github.com/MikeSquared-Agency/docchat/internal/events"
	"github.com/MikeSquared-Agency/docchat/internal/session"
)

func main() {
	file := flag.String("file", "", "document to upload before the first question")
	textFile := flag.String("text", "", "use already extracted text from this file instead of uploading")
	serve := flag.Bool("serve", false, "expose the local control API")
	interactive := flag.Bool("repl", true, "read questions from stdin")
	flag.Parse()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("docchat starting", "backend", cfg.APIBase, "reveal_interval", cfg.RevealInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(cfg.APIBase, cfg.UploadTimeout)
	sess, err := session.New(client, session.Options{
		RevealInterval: cfg.RevealInterval,
		UnitPolicy:     cfg.UnitPolicy,
		ChunkSize:      cfg.ChunkSize,
	}, slog.Default())
	if err != nil {
		slog.Error("invalid session options", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	hub := events.NewHub(events.DefaultBuffer)
	sess.Observe(hub)

	// NATS is optional; without it lifecycle events stay local.
	if cfg.NatsURL != "" {
		pub, err := events.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		sess.Observe(pub)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("nats not configured, events stay in-process")
	}

	if err := loadDocument(ctx, sess, *file, *textFile); err != nil {
		slog.Error("failed to load document", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	if *serve {
		srv := api.NewServer(gctx, cfg.Port, sess, hub, slog.Default())
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if *interactive {
		r := newREPL(sess, os.Stdin, os.Stdout)
		sess.Observe(r)
		g.Go(func() error {
			err := r.Run(gctx)
			// End of input ends the process unless the API is serving.
			if !*serve {
				stop()
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("docchat exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("docchat stopped")
}

func loadDocument(ctx context.Context, sess *session.Session, file, textFile string) error {
	switch {
	case textFile != "":
		data, err := os.ReadFile(textFile)
		if err != nil {
			return err
		}
		sess.SetDocument(textFile, string(data))
		slog.Info("document text loaded", "file", textFile, "chars", len(data))
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		return sess.Upload(ctx, file, f)
	}
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr; stdout carries the transcript.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
