package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/domain"
	"relaybot/internal/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or extend the queue snapshot",
		Long: `Works on the snapshot file, not a running relay. A running relay
overwrites the snapshot on its next interval, so stop it first.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print the items in the queue snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := queue.NewFileStore(cfg.Relay.SnapshotPath, logger)
			items, err := store.Load()
			if err != nil {
				return err
			}
			size := "missing"
			if info, err := os.Stat(store.Path()); err == nil {
				size = humanize.Bytes(uint64(info.Size()))
			}
			fmt.Printf("Snapshot: %s (%s)\n", store.Path(), size)
			fmt.Printf("Items: %d\n", len(items))
			for i, item := range items {
				fmt.Printf("  %3d  %s\n", i+1, describeItem(item))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "push-text [text]",
		Short: "Append a text item to the queue snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := queue.NewFileStore(cfg.Relay.SnapshotPath, logger)
			if err := store.Append(domain.NewText(strings.Join(args, " "))); err != nil {
				return err
			}
			logger.Info("text item appended", "path", store.Path())
			return nil
		},
	})

	return cmd
}

func describeItem(item domain.RelayItem) string {
	switch item.Type {
	case domain.ItemAttachment:
		return fmt.Sprintf("attachment  %s  %q", item.URL, truncate(item.Caption, 60))
	default:
		return fmt.Sprintf("text        %q", truncate(item.Content, 80))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
