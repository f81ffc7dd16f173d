package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: Telegram → Discord → relay options → save config",
		Long:  "Guides you through the Telegram bot token and chat, the Discord bot token and channels, and the queue location. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(os.Stdin, os.Stdout, cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'relaybot doctor', then 'relaybot run'.")
			return nil
		},
	}
}

// runWizard fills cfg from answers read on in. An empty answer keeps the
// value shown in brackets.
func runWizard(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Telegram
	fmt.Fprintln(out, "\n--- Step 1: Telegram destination ---")
	tok, err := prompt("Bot token (from @BotFather, or ${RELAYBOT_TELEGRAM_TOKEN})", orDefault(cfg.Telegram.Token, "${RELAYBOT_TELEGRAM_TOKEN}"))
	if err != nil {
		return err
	}
	cfg.Telegram.Token = tok
	for {
		chat, err := prompt("Chat id (-100... for channels) or @channelusername", cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		if validChatID(chat) {
			cfg.Telegram.ChatID = chat
			break
		}
		fmt.Fprintln(out, "  Enter a numeric chat id or a name starting with @.")
	}

	// Step 2: Discord
	fmt.Fprintln(out, "\n--- Step 2: Discord source ---")
	tok, err = prompt("Bot token (or ${RELAYBOT_DISCORD_TOKEN})", orDefault(cfg.Discord.Token, "${RELAYBOT_DISCORD_TOKEN}"))
	if err != nil {
		return err
	}
	cfg.Discord.Token = tok
	ids, err := prompt("Channel ids to relay, comma separated", strings.Join(cfg.Discord.ChannelIDs, ","))
	if err != nil {
		return err
	}
	cfg.Discord.ChannelIDs = splitList(ids)

	// Step 3: Relay
	fmt.Fprintln(out, "\n--- Step 3: Relay ---")
	snap, err := prompt("Queue snapshot file", cfg.Relay.SnapshotPath)
	if err != nil {
		return err
	}
	cfg.Relay.SnapshotPath = snap
	attempts, err := prompt("Send attempts per item", strconv.Itoa(cfg.Relay.MaxAttempts))
	if err != nil {
		return err
	}
	if n, err := strconv.Atoi(attempts); err == nil && n >= 1 {
		cfg.Relay.MaxAttempts = n
	}

	return config.Validate(cfg)
}

func validChatID(s string) bool {
	if strings.HasPrefix(s, "${") || (strings.HasPrefix(s, "@") && len(s) > 1) {
		return true
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func splitList(s string) config.FlexStringList {
	var out config.FlexStringList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
