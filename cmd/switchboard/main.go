// Command switchboard runs the reference agent server: a minimal echo
// agent behind the Telegram and web widget transports. Applications
// embedding the SDK supply their own Agent; this binary exists to
// exercise the full receive/contextualize/execute/emit loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	switchboard "github.com/switchboard-ai/switchboard"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/observer"
	"github.com/switchboard-ai/switchboard/store/postgres"
	"github.com/switchboard-ai/switchboard/store/sqlite"
	"github.com/switchboard-ai/switchboard/transport/telegram"
	"github.com/switchboard-ai/switchboard/transport/widget"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load(os.Getenv("SWITCHBOARD_CONFIG"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	// Observer (opt-in)
	var agent switchboard.Agent = echoAgent()
	svcOpts := []switchboard.ServiceOption{
		switchboard.WithServiceLogger(logger),
		switchboard.WithAPIToken(cfg.Server.APIToken),
	}
	if cfg.Cache.ActionCache {
		svcOpts = append(svcOpts, switchboard.WithServiceActionCache())
	}
	if cfg.Cache.LLMCache {
		svcOpts = append(svcOpts, switchboard.WithServiceLLMCache())
	}

	var wrapTransport func(switchboard.Transport) switchboard.Transport
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("observer shutdown", "error", err)
			}
		}()
		agent = observer.WrapAgent(agent, inst)
		svcOpts = append(svcOpts, switchboard.WithServiceTracer(observer.NewTracer()))
		wrapTransport = func(t switchboard.Transport) switchboard.Transport {
			return observer.WrapTransport(t, inst)
		}
	}

	svc := switchboard.NewService(store, agent, svcOpts...)

	// Transports
	register := func(t switchboard.Transport) {
		if wrapTransport != nil {
			t = wrapTransport(t)
		}
		svc.RegisterTransport(t)
	}
	if cfg.Telegram.Enabled {
		register(telegram.New(store, telegram.Config{
			BotToken:   cfg.Telegram.Token,
			APIBase:    cfg.Telegram.APIBase,
			WebhookURL: cfg.Telegram.WebhookURL,
		}, telegram.WithLogger(logger)))
	}
	if cfg.Widget.Enabled {
		register(widget.New(widget.WithLogger(logger)))
	}

	svc.InstanceInit(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: svc.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (switchboard.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool), nil
	default:
		return sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger)), nil
	}
}

// echoAgent is the reference agent: it replies with the latest user
// message. Real deployments replace this with an LLM-backed agent.
func echoAgent() switchboard.Agent {
	return switchboard.AgentFunc{
		AgentName: "echo",
		Fn: func(ctx context.Context, actx *switchboard.AgentContext) ([]switchboard.Block, error) {
			msgs, err := actx.ChatHistory.Messages(ctx, 1)
			if err != nil {
				return nil, err
			}
			if len(msgs) == 0 {
				return []switchboard.Block{switchboard.TextBlock("Say something and I will echo it.")}, nil
			}
			return []switchboard.Block{switchboard.TextBlock("You said: " + msgs[len(msgs)-1].Text)}, nil
		},
	}
}
