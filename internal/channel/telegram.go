package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"relaybot/internal/domain"
)

const (
	telegramMaxMsgLen     = 4096
	telegramMaxCaptionLen = 1024
)

// ErrNotConnected is returned by sends before Connect succeeded.
var ErrNotConnected = errors.New("telegram: not connected")

// botSender is the part of tgbotapi.BotAPI the destination uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Destination on the Telegram Bot API.
type Telegram struct {
	token    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu   sync.RWMutex
	bot  botSender
	self string
}

type TelegramConfig struct {
	Token             string
	APIEndpoint       string  // defaults to tgbotapi.APIEndpoint
	MessagesPerSecond float64 // 0 disables pacing
	Client            *http.Client
	Logger            *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1)
	}
	return &Telegram{
		token:    cfg.Token,
		endpoint: cfg.APIEndpoint,
		client:   cfg.Client,
		limiter:  limiter,
		logger:   cfg.Logger,
	}
}

// Connect validates the token with getMe and prepares the client.
func (t *Telegram) Connect(ctx context.Context) error {
	type result struct {
		bot *tgbotapi.BotAPI
		err error
	}
	ch := make(chan result, 1)
	go func() {
		bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
		ch <- result{bot, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("telegram bot init: %w", r.err)
		}
		t.mu.Lock()
		t.bot = r.bot
		t.self = r.bot.Self.UserName
		t.mu.Unlock()
		t.logger.Info("telegram bot connected", "username", r.bot.Self.UserName, "id", r.bot.Self.ID)
		return nil
	}
}

// Username returns the bot's username once connected.
func (t *Telegram) Username() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.self
}

// SendText sends a formatted message. Messages over the length limit are
// sent as plain chunks, since cutting MarkdownV2 could split an entity.
func (t *Telegram) SendText(ctx context.Context, target string, text domain.FormattedText) error {
	chat, err := parseTarget(target)
	if err != nil {
		return err
	}

	rendered := text.String()
	if utf8.RuneCountInString(rendered) <= telegramMaxMsgLen {
		return t.sendMessage(ctx, chat, rendered, text.Plain, text.Dialect)
	}

	t.logger.Debug("telegram message over length limit, sending plain chunks", "runes", utf8.RuneCountInString(rendered))
	for _, chunk := range splitMessage(text.Plain, telegramMaxMsgLen) {
		if err := t.sendMessage(ctx, chat, chunk, chunk, domain.DialectPlain); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) SendPhoto(ctx context.Context, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return t.sendFile(ctx, "sendPhoto", target, file, caption)
}

func (t *Telegram) SendVideo(ctx context.Context, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return t.sendFile(ctx, "sendVideo", target, file, caption)
}

func (t *Telegram) SendDocument(ctx context.Context, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	return t.sendFile(ctx, "sendDocument", target, file, caption)
}

func (t *Telegram) sendMessage(ctx context.Context, chat chatRef, text, plain string, dialect domain.Dialect) error {
	msg := tgbotapi.NewMessage(chat.id, text)
	msg.ChannelUsername = chat.username
	msg.ParseMode = string(dialect)

	err := t.send(ctx, "sendMessage", msg)
	if err == nil || dialect == domain.DialectPlain || !isParseError(err) {
		return err
	}

	t.logger.Warn("telegram rejected markup, resending as plain text", "err", err)
	fallback := tgbotapi.NewMessage(chat.id, plain)
	fallback.ChannelUsername = chat.username
	return t.send(ctx, "sendMessage", fallback)
}

func (t *Telegram) sendFile(ctx context.Context, op, target string, file domain.AttachmentDescriptor, caption domain.FormattedText) error {
	chat, err := parseTarget(target)
	if err != nil {
		return err
	}

	// A caption over the limit goes out as its own message first.
	if utf8.RuneCountInString(caption.String()) > telegramMaxCaptionLen {
		if err := t.SendText(ctx, target, caption); err != nil {
			return err
		}
		caption = domain.PlainText("")
	}

	build := func(c domain.FormattedText, text string) tgbotapi.Chattable {
		data := tgbotapi.FileBytes{Name: file.FileName, Bytes: file.Content}
		mode := string(c.Dialect)
		switch op {
		case "sendPhoto":
			p := tgbotapi.NewPhoto(chat.id, data)
			p.ChannelUsername, p.Caption, p.ParseMode = chat.username, text, mode
			return p
		case "sendVideo":
			v := tgbotapi.NewVideo(chat.id, data)
			v.ChannelUsername, v.Caption, v.ParseMode = chat.username, text, mode
			return v
		default:
			d := tgbotapi.NewDocument(chat.id, data)
			d.ChannelUsername, d.Caption, d.ParseMode = chat.username, text, mode
			return d
		}
	}

	err = t.send(ctx, op, build(caption, caption.String()))
	if err == nil || caption.Dialect == domain.DialectPlain || !isParseError(err) {
		return err
	}
	t.logger.Warn("telegram rejected caption markup, resending as plain text", "op", op, "err", err)
	return t.send(ctx, op, build(domain.PlainText(caption.Plain), caption.Plain))
}

// send paces the request and waits for it no longer than ctx allows. The
// bot API has no context support, so an abandoned request finishes in the
// background bounded by the HTTP client timeout.
func (t *Telegram) send(ctx context.Context, op string, c tgbotapi.Chattable) error {
	t.mu.RLock()
	bot := t.bot
	t.mu.RUnlock()
	if bot == nil {
		return &domain.SendError{Op: op, Err: ErrNotConnected}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return &domain.SendError{Op: op, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		_, err := bot.Send(c)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return &domain.SendError{Op: op, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return classifyError(op, err)
		}
		return nil
	}
}

// chatRef is a destination chat: a numeric id or a public @username.
type chatRef struct {
	id       int64
	username string
}

func parseTarget(target string) (chatRef, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return chatRef{username: target}, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return chatRef{}, &domain.SendError{Op: "target", Err: fmt.Errorf("invalid chat id %q", target)}
	}
	return chatRef{id: id}, nil
}

// classifyError maps a bot API failure to a SendError. Rate limits and
// server errors are transient; other API errors are not. Errors without an
// API response are network failures and transient.
func classifyError(op string, err error) *domain.SendError {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &domain.SendError{
			Op:         op,
			Code:       apiErr.Code,
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			Transient:  apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500,
			Err:        errors.New(apiErr.Message),
		}
	}
	return &domain.SendError{
		Op:        op,
		Transient: !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}
}

func isParseError(err error) bool {
	var se *domain.SendError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		return false
	}
	return strings.Contains(se.Err.Error(), "can't parse entities")
}
