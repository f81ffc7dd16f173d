package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/attachment"
	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/deadletter"
	"relaybot/internal/domain"
	"relaybot/internal/httpx"
	"relaybot/internal/metrics"
	"relaybot/internal/queue"
	"relaybot/internal/relay"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (Discord listener + Telegram dispatcher)",
		Long:  "Restores the queue snapshot, connects to Telegram and Discord and relays until interrupted. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)
	collector := metrics.NewCollector("relaybot")
	unsubscribe := metrics.NewRelayMetrics(collector).Subscribe(events)
	defer unsubscribe()

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path, collector, logger); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	// Queue, restored from the last snapshot
	q := queue.New(logger)
	store := queue.NewFileStore(cfg.Relay.SnapshotPath, logger)
	restored, err := queue.Restore(q, store)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	logger.Info("queue restored", "items", restored, "path", store.Path())

	persister := queue.NewPersister(queue.PersisterConfig{
		Queue:    q,
		Store:    store,
		Interval: config.Seconds(cfg.Relay.SnapshotIntervalSeconds),
		Events:   events,
		Logger:   logger,
	})
	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()
	wg.Add(1)
	go func() {
		defer wg.Done()
		persister.Run(persistCtx)
	}()

	// Telegram destination
	telegram := channel.NewTelegram(channel.TelegramConfig{
		Token:             cfg.Telegram.Token,
		APIEndpoint:       cfg.Telegram.APIEndpoint,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
		Client:            httpx.SharedClient(config.Seconds(cfg.Telegram.SendTimeoutSeconds)),
		Logger:            logger,
	})
	if err := telegram.Connect(ctx); err != nil {
		return err
	}
	dest := relay.WithRetry(telegram, relay.RetryPolicy{MaxAttempts: cfg.Relay.MaxAttempts}, logger)

	limits := attachment.Limits{
		Photo:    cfg.Attachments.PhotoMaxBytes,
		Video:    cfg.Attachments.VideoMaxBytes,
		Document: cfg.Attachments.DocumentMaxBytes,
	}
	attachments := attachment.New(attachment.Config{
		Destination: dest,
		Fetcher: attachment.NewFetcher(attachment.FetcherConfig{
			Client: httpx.SharedClient(config.Seconds(cfg.Attachments.DownloadTimeoutSeconds)),
			Logger: logger,
		}),
		Limits:         limits,
		DefaultCaption: cfg.Relay.DefaultCaption,
		Logger:         logger,
	})
	logger.Info("attachment limits",
		"photo", humanize.IBytes(uint64(limits.Ceiling(domain.KindPhoto))),
		"video", humanize.IBytes(uint64(limits.Ceiling(domain.KindVideo))),
		"document", humanize.IBytes(uint64(limits.Ceiling(domain.KindDocument))))

	var deadLetters domain.DeadLetterSink
	if cfg.DeadLetter.Enabled {
		dl, err := deadletter.Open(cfg.DeadLetter.DBPath, logger)
		if err != nil {
			return fmt.Errorf("dead letter store: %w", err)
		}
		defer dl.Close()
		deadLetters = dl
	}

	dispatcher := relay.New(relay.Config{
		Queue:       q,
		Destination: dest,
		Attachments: attachments,
		Target:      cfg.Telegram.ChatID,
		ItemTimeout: config.Seconds(cfg.Relay.ItemTimeoutSeconds),
		DeadLetters: deadLetters,
		Events:      events,
		Logger:      logger,
	})
	// The dispatcher outlives the signal so it can drain after the
	// listener has stopped.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(dispatchCtx); err != nil {
			logger.Error("dispatcher error", "err", err)
		}
	}()

	// Discord source
	var source domain.Source = channel.NewDiscord(channel.DiscordConfig{
		Token:      cfg.Discord.Token,
		GuildID:    cfg.Discord.GuildID,
		ChannelIDs: cfg.Discord.ChannelIDs,
		Logger:     logger,
	})
	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- source.Start(ctx, &relay.Intake{Queue: q, Events: events})
	}()

	logger.Info("relay started. Press Ctrl+C to stop.", "target", cfg.Telegram.ChatID, "channels", len(cfg.Discord.ChannelIDs))

	var runErr error
	select {
	case <-ctx.Done():
		if err := <-sourceErr; err != nil {
			logger.Warn("discord listener stopped with error", "err", err)
		}
	case err := <-sourceErr:
		// A listener failure ends the run; the queue is still drained
		// and saved below.
		runErr = fmt.Errorf("%s listener: %w", source.Name(), err)
		stop()
	}
	logger.Info("shutting down relay...", "pending", q.Len())

	q.Close()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), config.Seconds(cfg.Relay.DrainTimeoutSeconds))
	if err := q.WaitIdle(drainCtx); err != nil {
		logger.Warn("drain timed out, remaining items stay in the snapshot", "pending", q.Len())
	}
	cancelDrain()

	stopDispatch()
	<-dispatchDone
	stopPersist()
	wg.Wait()

	if err := persister.Flush(); err != nil {
		logger.Error("final queue snapshot failed", "err", err)
		runErr = errors.Join(runErr, fmt.Errorf("final snapshot: %w", err))
	} else {
		logger.Info("final queue snapshot written", "items", q.Len(), "path", store.Path())
	}
	return runErr
}
