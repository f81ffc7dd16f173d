package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot.
type Config struct {
	General     GeneralConfig     `json:"general" yaml:"general"`
	Telegram    TelegramConfig    `json:"telegram" yaml:"telegram"`
	Discord     DiscordConfig     `json:"discord" yaml:"discord"`
	Relay       RelayConfig       `json:"relay" yaml:"relay"`
	Attachments AttachmentsConfig `json:"attachments" yaml:"attachments"`
	DeadLetter  DeadLetterConfig  `json:"deadLetter" yaml:"deadLetter"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir       string `json:"dataDir" yaml:"dataDir" validate:"required"`
	LogLevel      string `json:"logLevel" yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFile       string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional, rotated
	LogMaxAgeDays int    `json:"logMaxAgeDays" yaml:"logMaxAgeDays" validate:"gte=0"`
}

type TelegramConfig struct {
	Token              string  `json:"token" yaml:"token"`
	ChatID             string  `json:"chatId" yaml:"chatId"` // numeric id or @channelusername
	APIEndpoint        string  `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"`
	MessagesPerSecond  float64 `json:"messagesPerSecond" yaml:"messagesPerSecond" validate:"gte=0"`
	SendTimeoutSeconds int     `json:"sendTimeoutSeconds" yaml:"sendTimeoutSeconds" validate:"gte=1"`
}

type DiscordConfig struct {
	Token      string         `json:"token" yaml:"token"`
	ChannelIDs FlexStringList `json:"channelIds" yaml:"channelIds"`
	GuildID    string         `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to one guild
}

type RelayConfig struct {
	SnapshotPath            string `json:"snapshotPath" yaml:"snapshotPath" validate:"required"`
	SnapshotIntervalSeconds int    `json:"snapshotIntervalSeconds" yaml:"snapshotIntervalSeconds" validate:"gte=1"`
	ItemTimeoutSeconds      int    `json:"itemTimeoutSeconds" yaml:"itemTimeoutSeconds" validate:"gte=1"`
	DrainTimeoutSeconds     int    `json:"drainTimeoutSeconds" yaml:"drainTimeoutSeconds" validate:"gte=0"`
	MaxAttempts             int    `json:"maxAttempts" yaml:"maxAttempts" validate:"gte=1,lte=10"`
	DefaultCaption          string `json:"defaultCaption" yaml:"defaultCaption"`
}

type AttachmentsConfig struct {
	DownloadTimeoutSeconds int   `json:"downloadTimeoutSeconds" yaml:"downloadTimeoutSeconds" validate:"gte=1"`
	PhotoMaxBytes          int64 `json:"photoMaxBytes" yaml:"photoMaxBytes" validate:"gte=1"`
	VideoMaxBytes          int64 `json:"videoMaxBytes" yaml:"videoMaxBytes" validate:"gte=1"`
	DocumentMaxBytes       int64 `json:"documentMaxBytes" yaml:"documentMaxBytes" validate:"gte=1"`
}

type DeadLetterConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen" validate:"required_if=Enabled true"`
	Path    string `json:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// FlexStringList is a []string that also accepts numbers in the list
// (e.g. ["123", 456] becomes "123", "456"). Discord snowflakes are often
// pasted as bare numbers.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		// json.Number keeps 64-bit snowflakes exact
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, n.String())
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		result := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a scalar list item", item.Line)
			}
			result = append(result, item.Value)
		}
		*f = result
	case yaml.ScalarNode:
		*f = FlexStringList{node.Value}
	default:
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	return nil
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(ExpandPath(path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot load env file %s: %w", path, err)
	}
	return nil
}

// Load reads a JSON or YAML config file (chosen by extension), expands
// ${VAR} references, applies RELAYBOT_* environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envOverrides are read from RELAYBOT_* variables and win over the file.
type envOverrides struct {
	TelegramToken     string   `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID    string   `envconfig:"TELEGRAM_CHAT_ID"`
	DiscordToken      string   `envconfig:"DISCORD_TOKEN"`
	DiscordChannelIDs []string `envconfig:"DISCORD_CHANNEL_IDS"`
	LogLevel          string   `envconfig:"LOG_LEVEL"`
	DataDir           string   `envconfig:"DATA_DIR"`
}

const envPrefix = "RELAYBOT"

// ApplyEnv overlays RELAYBOT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(envPrefix, &o); err != nil {
		return fmt.Errorf("cannot read %s_* environment: %w", envPrefix, err)
	}
	if o.TelegramToken != "" {
		cfg.Telegram.Token = o.TelegramToken
	}
	if o.TelegramChatID != "" {
		cfg.Telegram.ChatID = o.TelegramChatID
	}
	if o.DiscordToken != "" {
		cfg.Discord.Token = o.DiscordToken
	}
	if len(o.DiscordChannelIDs) > 0 {
		cfg.Discord.ChannelIDs = o.DiscordChannelIDs
	}
	if o.LogLevel != "" {
		cfg.General.LogLevel = strings.ToLower(o.LogLevel)
	}
	if o.DataDir != "" {
		cfg.General.DataDir = o.DataDir
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// RequireCredentials reports what is missing to actually run the relay.
// It is separate from Validate so that init, config and queue commands
// work before tokens are filled in.
func RequireCredentials(cfg *Config) error {
	var errs []string
	if cfg.Telegram.Token == "" || strings.HasPrefix(cfg.Telegram.Token, "${") {
		errs = append(errs, "telegram.token is required (or set RELAYBOT_TELEGRAM_TOKEN)")
	}
	if cfg.Telegram.ChatID == "" || strings.HasPrefix(cfg.Telegram.ChatID, "${") {
		errs = append(errs, "telegram.chatId is required (or set RELAYBOT_TELEGRAM_CHAT_ID)")
	} else if !strings.HasPrefix(cfg.Telegram.ChatID, "@") {
		if _, err := strconv.ParseInt(cfg.Telegram.ChatID, 10, 64); err != nil {
			errs = append(errs, "telegram.chatId must be a numeric chat id or @channelusername")
		}
	}
	if cfg.Discord.Token == "" || strings.HasPrefix(cfg.Discord.Token, "${") {
		errs = append(errs, "discord.token is required (or set RELAYBOT_DISCORD_TOKEN)")
	}
	if len(cfg.Discord.ChannelIDs) == 0 {
		errs = append(errs, "discord.channelIds must list at least one channel")
	}
	if len(errs) > 0 {
		return fmt.Errorf("missing credentials:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Relay.SnapshotPath = ExpandPath(c.Relay.SnapshotPath)
	c.DeadLetter.DBPath = ExpandPath(c.DeadLetter.DBPath)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
