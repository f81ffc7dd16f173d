package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"relaybot/internal/domain"
)

// Discord listens on a set of Discord channels and turns their messages
// into relay items.
type Discord struct {
	token      string
	guildID    string
	channelIDs map[string]bool
	logger     *slog.Logger
}

// DiscordConfig configures the Discord listener.
type DiscordConfig struct {
	Token      string
	GuildID    string // optional, restricts to one guild
	ChannelIDs []string
	Logger     *slog.Logger
}

// NewDiscord creates a new Discord listener.
func NewDiscord(cfg DiscordConfig) *Discord {
	ids := make(map[string]bool, len(cfg.ChannelIDs))
	for _, id := range cfg.ChannelIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = true
		}
	}
	return &Discord{
		token:      cfg.Token,
		guildID:    cfg.GuildID,
		channelIDs: ids,
		logger:     cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to the gateway and pushes relay items into sink until ctx
// is cancelled.
func (d *Discord) Start(ctx context.Context, sink domain.ItemSink) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info("discord bot connected", "user", r.User.Username, "channels", len(d.channelIDs))
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.onMessage(s, m, sink)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate, sink domain.ItemSink) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if !d.accepts(m.GuildID, m.ChannelID) {
		return
	}

	channelName := m.ChannelID
	if ch, err := s.State.Channel(m.ChannelID); err == nil {
		channelName = ch.Name
	} else if ch, err := s.Channel(m.ChannelID); err == nil {
		channelName = ch.Name
	}

	d.logger.Info("discord message received",
		"channel", channelName,
		"author", m.Author.Username,
		"content_len", len(m.Content),
		"attachments", len(m.Attachments),
	)

	for _, item := range buildItems(channelName, m.Author.Username, m.Message) {
		if _, err := sink.Enqueue(item); err != nil {
			d.logger.Error("failed to enqueue relay item", "item", item.String(), "err", err)
		}
	}
}

func (d *Discord) accepts(guildID, channelID string) bool {
	if d.guildID != "" && guildID != d.guildID {
		return false
	}
	return d.channelIDs[channelID]
}

// buildItems maps one Discord message to relay items: one attachment item
// per attachment, each captioned with the message text, or a single text
// item when there are none. Embeds are flattened into the text when the
// message has no content of its own.
func buildItems(channelName, author string, m *discordgo.Message) []domain.RelayItem {
	content := fmt.Sprintf("From %s (%s)", channelName, author)
	if m.Content != "" {
		content += ": " + m.Content
	}

	if m.Content == "" && len(m.Embeds) > 0 {
		var lines []string
		for _, e := range m.Embeds {
			if e.Title != "" {
				lines = append(lines, "Title: "+e.Title)
			}
			if e.Description != "" {
				lines = append(lines, "Description: "+e.Description)
			}
			for _, f := range e.Fields {
				lines = append(lines, f.Name+": "+f.Value)
			}
		}
		if len(lines) > 0 {
			content += "\n" + strings.Join(lines, "\n")
		}
	}

	if len(m.Attachments) == 0 {
		return []domain.RelayItem{domain.NewText(content)}
	}
	items := make([]domain.RelayItem, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		items = append(items, domain.NewAttachment(a.URL, content))
	}
	return items
}
