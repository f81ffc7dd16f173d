package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/deadletter"
	"relaybot/internal/httpx"
	"relaybot/internal/queue"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, data directory, queue snapshot,
dead-letter database and Telegram token are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("relaybot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'relaybot init' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("invalid config")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Credentials present
			credsOK := true
			if err := config.RequireCredentials(cfg); err != nil {
				printFail("Credentials", err.Error())
				failed++
				credsOK = false
			} else {
				printPass("Credentials", fmt.Sprintf("telegram chat %s, %d discord channel(s)", cfg.Telegram.ChatID, len(cfg.Discord.ChannelIDs)))
				passed++
			}

			// 4. Data directory writable
			if err := checkWritableDir(cfg.General.DataDir); err != nil {
				printFail("Data directory", err.Error())
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}

			// 5. Queue snapshot readable
			store := queue.NewFileStore(cfg.Relay.SnapshotPath, logger)
			if items, err := store.Load(); err != nil {
				printFail("Queue snapshot", err.Error())
				failed++
			} else if info, statErr := os.Stat(store.Path()); statErr != nil {
				printPass("Queue snapshot", "none yet, starting empty")
				passed++
			} else {
				printPass("Queue snapshot", fmt.Sprintf("%d item(s), %s", len(items), humanize.Bytes(uint64(info.Size()))))
				passed++
			}

			// 6. Dead-letter database
			if cfg.DeadLetter.Enabled {
				if n, err := checkDeadLetters(cmd.Context(), cfg.DeadLetter.DBPath); err != nil {
					printFail("Dead letters", err.Error())
					failed++
				} else if n > 0 {
					printWarn("Dead letters", fmt.Sprintf("%d item(s) waiting, see 'relaybot deadletter list'", n))
					warned++
				} else {
					printPass("Dead letters", cfg.DeadLetter.DBPath)
					passed++
				}
			} else {
				printWarn("Dead letters", "disabled, failed items are only logged")
				warned++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", fmt.Sprintf("%s (kept %d days)", cfg.General.LogFile, cfg.General.LogMaxAgeDays))
					passed++
				}
			}

			// 8. Metrics listen address
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics address", cfg.Metrics.Listen+cfg.Metrics.Path)
					passed++
				}
			}

			// 9. Telegram token
			switch {
			case offline:
				printWarn("Telegram", "skipped (--offline)")
				warned++
			case !credsOK:
				printWarn("Telegram", "skipped, credentials incomplete")
				warned++
			default:
				if name, err := checkTelegram(cmd.Context(), cfg); err != nil {
					printFail("Telegram", err.Error())
					failed++
				} else {
					printPass("Telegram", "connected as @"+name)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nrelaybot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! relaybot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that need network access")
	return cmd
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkDeadLetters(ctx context.Context, dbPath string) (int, error) {
	store, err := deadletter.Open(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return store.Count(ctx)
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func checkTelegram(ctx context.Context, cfg *config.Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Client:      httpx.SharedClient(config.Seconds(cfg.Telegram.SendTimeoutSeconds)),
		Logger:      logger,
	})
	if err := tg.Connect(ctx); err != nil {
		return "", err
	}
	return tg.Username(), nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
