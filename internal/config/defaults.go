package config

import "time"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:       "~/.relaybot",
			LogLevel:      "info",
			LogMaxAgeDays: 2,
		},
		Telegram: TelegramConfig{
			MessagesPerSecond:  1,
			SendTimeoutSeconds: 60,
		},
		Relay: RelayConfig{
			SnapshotPath:            "~/.relaybot/queue.json",
			SnapshotIntervalSeconds: 60,
			ItemTimeoutSeconds:      120,
			DrainTimeoutSeconds:     10,
			MaxAttempts:             3,
			DefaultCaption:          "Attachment",
		},
		Attachments: AttachmentsConfig{
			DownloadTimeoutSeconds: 60,
			PhotoMaxBytes:          10 << 20,
			VideoMaxBytes:          50 << 20,
			DocumentMaxBytes:       50 << 20,
		},
		DeadLetter: DeadLetterConfig{
			Enabled: true,
			DBPath:  "~/.relaybot/deadletters.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}

// Seconds converts a config field in seconds to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
