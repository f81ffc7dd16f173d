package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/deadletter"
	"relaybot/internal/domain"
	"relaybot/internal/queue"
)

func deadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect, requeue or purge items the relay gave up on",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openDeadLetters()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			total, err := store.Count(ctx)
			if err != nil {
				return err
			}
			dls, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Printf("Dead letters: %d (showing %d)\n", total, len(dls))
			for _, dl := range dls {
				fmt.Printf("  %s  %-15s  attempts=%d  %s\n", dl.ID, dl.FailureType, dl.Attempts, humanize.Time(dl.FailedAt))
				fmt.Printf("      %s\n", describeItem(dl.Item))
				if dl.LastError != "" {
					fmt.Printf("      error: %s\n", truncate(dl.LastError, 120))
				}
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries to show")
	cmd.AddCommand(list)

	var all bool
	requeue := &cobra.Command{
		Use:   "requeue [id...]",
		Short: "Append dead letters to the queue snapshot and remove them",
		Long: `Appends the items to the queue snapshot file so the next 'relaybot run'
delivers them. Stop the relay first; a running relay overwrites the snapshot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("specify dead letter ids or --all")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openDeadLetters()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			var dls []domain.DeadLetter
			if all {
				if dls, err = store.List(ctx, 0); err != nil {
					return err
				}
			} else {
				for _, id := range args {
					dl, err := store.Get(ctx, id)
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					dls = append(dls, dl)
				}
			}
			if len(dls) == 0 {
				fmt.Println("Nothing to requeue.")
				return nil
			}
			return requeueDeadLetters(ctx, store, queue.NewFileStore(cfg.Relay.SnapshotPath, logger), dls)
		},
	}
	requeue.Flags().BoolVar(&all, "all", false, "requeue every dead letter")
	cmd.AddCommand(requeue)

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openDeadLetters()
			if err != nil {
				return err
			}
			defer closeStore()

			var cutoff time.Time
			if olderThan > 0 {
				cutoff = time.Now().Add(-olderThan)
			}
			n, err := store.Purge(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d dead letter(s).\n", n)
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "only purge entries older than this (e.g. 168h); default purges all")
	cmd.AddCommand(purge)

	return cmd
}

func openDeadLetters() (*deadletter.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.DeadLetter.Enabled {
		return nil, nil, fmt.Errorf("dead letters are disabled (deadLetter.enabled)")
	}
	store, err := deadletter.Open(cfg.DeadLetter.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

// requeueDeadLetters appends the items first so a crash in between leaves
// a duplicate rather than a lost item.
func requeueDeadLetters(ctx context.Context, store *deadletter.Store, snapshot *queue.FileStore, dls []domain.DeadLetter) error {
	items := make([]domain.RelayItem, 0, len(dls))
	ids := make([]string, 0, len(dls))
	for _, dl := range dls {
		items = append(items, dl.Item)
		ids = append(ids, dl.ID)
	}
	if err := snapshot.Append(items...); err != nil {
		return fmt.Errorf("append to snapshot: %w", err)
	}
	n, err := store.Delete(ctx, ids...)
	if err != nil {
		return fmt.Errorf("remove requeued dead letters: %w", err)
	}
	fmt.Printf("Requeued %d item(s) into %s.\n", n, snapshot.Path())
	return nil
}
