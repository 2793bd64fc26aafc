package main

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/backoff"
	"github.com/Inouye165/React-Photo-App-sub008/internal/delivery"
	"github.com/Inouye165/React-Photo-App-sub008/internal/jobs"
	"github.com/Inouye165/React-Photo-App-sub008/internal/poll"
	"github.com/Inouye165/React-Photo-App-sub008/internal/stream"
)

func watchCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "watch PHOTO_ID [PHOTO_ID...]",
		Short: "Watch analysis jobs until each reaches a terminal state",
		Long: `Watch one or more photo analysis jobs.

Status updates arrive over the push stream when it is available; when the
stream is down the watcher falls back to polling the status endpoint per
photo. Exits once every watched photo is complete or in error.

Examples:
  # Watch a single photo
  photo-watcher watch photo-123

  # Watch several photos as a different user
  photo-watcher watch --user alice photo-123 photo-456`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			user := cfg.Watcher.UserID
			if userID != "" {
				user = userID
			}
			if user == "" {
				return fmt.Errorf("no user id: set watcher.user_id or pass --user")
			}

			wsURL, err := subscribeURL(cfg.Watcher.ServerURL)
			if err != nil {
				return err
			}

			client := jobs.NewHTTPClient(
				cfg.Watcher.ServerURL,
				user,
				cfg.Watcher.RatePerSecond,
				time.Duration(cfg.Watcher.TimeoutSec)*time.Second,
				logger,
			)

			health := &stream.Health{}

			var coord *delivery.Coordinator
			manager := poll.NewManager(poll.Options{
				Client: client,
				Health: health,
				OnUpdate: func(subject string, state jobs.State) {
					coord.HandleUpdate(subject, state)
				},
				OnSlow: func(subject string) {
					logger.Warn("analysis is taking longer than usual",
						zap.String("photo", subject),
					)
				},
				Defaults: poll.TaskConfig{
					Interval:    time.Duration(cfg.Watcher.Poll.IntervalMS) * time.Millisecond,
					MaxInterval: time.Duration(cfg.Watcher.Poll.MaxIntervalMS) * time.Millisecond,
					SoftTimeout: time.Duration(cfg.Watcher.Poll.SoftTimeoutMS) * time.Millisecond,
					HardTimeout: time.Duration(cfg.Watcher.Poll.HardTimeoutMS) * time.Millisecond,
				},
				MaxErrors: cfg.Watcher.Poll.MaxErrors,
				Logger:    logger,
			})
			defer manager.Close()

			coord = delivery.New(manager, logger)

			connector := stream.NewConnector(stream.Options{
				URL:              wsURL,
				UserID:           user,
				Sink:             coord,
				DedupeCapacity:   cfg.Watcher.Stream.DedupeCapacity,
				FailureThreshold: cfg.Watcher.Stream.FailureThreshold,
				Backoff: backoff.Options{
					Base:        time.Duration(cfg.Watcher.Stream.BackoffBaseMS) * time.Millisecond,
					JitterRatio: cfg.Watcher.Stream.JitterRatio,
				},
				Health: health,
				Logger: logger,
			})
			go connector.Run(ctx)

			var wg sync.WaitGroup
			for _, photoID := range args {
				wg.Add(1)
				id := photoID
				coord.Watch(id, func(state jobs.State) {
					display := jobs.Display(state)
					fmt.Printf("%s: %s\n", id, display)
					if state.Terminal() {
						wg.Done()
					}
				})
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
				logger.Info("all photos resolved", zap.Int("count", len(args)))
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "authenticated user id (overrides config)")
	return cmd
}

// subscribeURL derives the WebSocket subscribe endpoint from the HTTP base.
func subscribeURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	switch {
	case u.Scheme == "https":
		u.Scheme = "wss"
	case u.Scheme == "http":
		u.Scheme = "ws"
	case strings.HasPrefix(u.Scheme, "ws"):
		// Already a websocket URL.
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/events/subscribe"
	return u.String(), nil
}
