package notify

import (
	"context"
	"fmt"
	"strings"

	"channelsync/internal/config"
	"channelsync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const outboxSize = 64

// Sender is the part of the Telegram bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier forwards sync failures from the event bus to Telegram chats.
// Messages are sent from Run; when the outbox is full new ones are dropped.
type Notifier struct {
	sender  Sender
	chatIDs []int64
	outbox  chan string
	logger  *zerolog.Logger
}

// NewTelegram connects to the bot API. It returns nil when no token or chat
// is configured.
func NewTelegram(cfg config.NotifyConfig, logger *zerolog.Logger) (*Notifier, error) {
	if cfg.TelegramToken == "" || len(cfg.ChatIDs) == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return New(bot, cfg.ChatIDs, logger), nil
}

func New(sender Sender, chatIDs []int64, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{
		sender:  sender,
		chatIDs: chatIDs,
		outbox:  make(chan string, outboxSize),
		logger:  logger,
	}
}

// Attach subscribes the notifier to failure events.
func (n *Notifier) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventConnectorSynced, n.onEvent)
	bus.Subscribe(events.EventConnectorSkipped, n.onEvent)
	bus.Subscribe(events.EventReverseFailed, n.onEvent)
}

func (n *Notifier) onEvent(e *events.Event) error {
	var payload events.SyncEventPayload
	if err := e.Decode(&payload); err != nil {
		return err
	}
	if payload.Success && e.Type == events.EventConnectorSynced {
		return nil
	}
	select {
	case n.outbox <- Format(e.Type, payload):
	default:
		n.logger.Warn().Str("event", e.Type).Msg("Notification outbox full, message dropped")
	}
	return nil
}

// Run sends queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.outbox:
			if err := n.Broadcast(text); err != nil {
				n.logger.Error().Err(err).Msg("Failed to send notification")
			}
		}
	}
}

// Broadcast sends text to every configured chat.
func (n *Notifier) Broadcast(text string) error {
	var result *multierror.Error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.sender.Send(msg); err != nil {
			result = multierror.Append(result, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return result.ErrorOrNil()
}

// Format renders a failure event as plain text.
func Format(eventType string, p events.SyncEventPayload) string {
	var b strings.Builder
	switch eventType {
	case events.EventReverseFailed:
		b.WriteString("❌ Reverse sync failed")
	case events.EventConnectorSkipped:
		b.WriteString("⚠️ Connector skipped")
	default:
		b.WriteString("❌ Sync failed")
	}
	fmt.Fprintf(&b, "\nIntegration: %s (#%d)", p.IntegrationName, p.IntegrationID)
	if p.Connector != "" {
		fmt.Fprintf(&b, "\nConnector: %s", p.Connector)
	}
	if p.Mode != "" {
		fmt.Fprintf(&b, "\nMode: %s", p.Mode)
	}
	if p.Message != "" {
		fmt.Fprintf(&b, "\n%s", p.Message)
	}
	if len(p.Counts) > 0 {
		keys := []string{"read", "process", "add", "update", "replace", "delete", "errors", "exported", "skipped"}
		var parts []string
		for _, k := range keys {
			if v, ok := p.Counts[k]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", k, v))
			}
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, "\nStats: %s", strings.Join(parts, ", "))
		}
	}
	for i, e := range p.Errors {
		if i == 5 {
			fmt.Fprintf(&b, "\n... and %d more", len(p.Errors)-5)
			break
		}
		fmt.Fprintf(&b, "\n- %s", e)
	}
	return b.String()
}
