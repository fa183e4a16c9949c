// Command notifier-watch is a terminal consumer of the notifier API. It
// bootstraps missed orders, follows the event stream, and falls back to
// adaptive polling when the stream is unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/broadcast"
	"github.com/zvonac99/order-notifier/internal/client"
	"github.com/zvonac99/order-notifier/internal/config"
	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/observ"
	"github.com/zvonac99/order-notifier/internal/poller"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	baseURL := os.Getenv("NOTIFIER_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	userID := int64(1)
	if raw := os.Getenv("NOTIFIER_USER_ID"); raw != "" {
		userID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("invalid NOTIFIER_USER_ID: %q", raw)
		}
	}
	role := os.Getenv("NOTIFIER_ROLE")
	if role == "" {
		role = "administrator"
	}

	c := client.New(client.Config{
		BaseURL: baseURL,
		UserID:  userID,
		Role:    role,
		Timeout: 10 * time.Second,
	}, logger)

	schedule := poller.NewSchedule(cfg.PollBase, cfg.PollStep, cfg.PollAttempts, cfg.PollCeiling)
	bus := broadcast.NewBus()

	display := func(ev *event.Event) {
		fmt.Printf("[%s] %s\n    %s\n",
			time.Unix(ev.Timestamp, 0).Format("15:04:05"),
			ev.Payload.Title,
			ev.Payload.Message,
		)
		if ev.Reload {
			fmt.Println("    (order list changed, refresh it)")
		}
	}

	watcher := client.NewWatcher(c, bus, schedule, display, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("watching for order notifications",
		zap.String("server", baseURL),
		zap.Int64("user_id", userID),
		zap.String("role", role),
	)
	return watcher.Run(ctx)
}
