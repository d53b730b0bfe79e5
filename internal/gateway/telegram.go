package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	telegramMessageLimit = 4096
	telegramPollTimeout  = 30
	telegramRetryDelay   = 3 * time.Second
)

// TelegramAdapter implements Adapter for Telegram using long polling.
type TelegramAdapter struct {
	token   string
	debug   bool
	bot     *tgbotapi.BotAPI
	handler MessageHandler
	cancel  context.CancelFunc
	state   connState
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewTelegramAdapter creates a Telegram gateway adapter.
func NewTelegramAdapter(token string, debug bool, logger *zap.Logger) *TelegramAdapter {
	return &TelegramAdapter{token: token, debug: debug, logger: logger}
}

func (a *TelegramAdapter) Platform() string { return "telegram" }

func (a *TelegramAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect authorizes the bot and starts the polling loop.
func (a *TelegramAdapter) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		a.mu.Lock()
		a.state.lastError = fmt.Sprintf("authorize: %v", err)
		a.mu.Unlock()
		return fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = a.debug

	pollCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.bot = bot
	a.cancel = cancel
	a.state = connState{connected: true, connectedAt: time.Now()}
	a.mu.Unlock()

	go a.poll(pollCtx)
	a.logger.Info("telegram adapter connected", zap.String("bot", bot.Self.UserName))
	return nil
}

// poll fetches updates with an explicit offset so cancellation stops the
// loop between requests.
func (a *TelegramAdapter) poll(ctx context.Context) {
	offset := 0
	for {
		if ctx.Err() != nil {
			return
		}
		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = telegramPollTimeout

		updates, err := a.bot.GetUpdates(cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Debug("telegram get updates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(telegramRetryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if msg := toInbound(update); msg != nil && a.handler != nil {
				a.handler(msg)
			}
		}
	}
}

// toInbound normalizes a text update. Updates without text are dropped.
func toInbound(update tgbotapi.Update) *InboundMessage {
	m := update.Message
	if m == nil || m.From == nil {
		return nil
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return nil
	}
	name := m.From.UserName
	if name == "" {
		name = m.From.FirstName
	}
	return &InboundMessage{
		Platform:  "telegram",
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		UserID:    strconv.FormatInt(m.From.ID, 10),
		UserName:  name,
		Content:   text,
		Timestamp: m.Time(),
		ReplyTo:   strconv.Itoa(m.MessageID),
	}
}

// Send posts a message, split at Telegram's message limit. The first chunk
// replies to the originating message when known.
func (a *TelegramAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return fmt.Errorf("telegram send: not connected")
	}
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", msg.ChannelID)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)

	for i, chunk := range splitMessage(msg.Content, telegramMessageLimit) {
		out := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 && replyTo > 0 {
			out.ReplyToMessageID = replyTo
		}
		if _, err := bot.Send(out); err != nil {
			return fmt.Errorf("telegram send chunk %d: %w", i, err)
		}
	}
	return nil
}

func (a *TelegramAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	details := ""
	if a.bot != nil {
		details = "bot=" + a.bot.Self.UserName
	}
	return a.state.status("telegram", details)
}

// Close stops polling.
func (a *TelegramAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
	a.state.connected = false
	return nil
}
