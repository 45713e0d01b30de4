// Package notify forwards error-level log entries to an operator chat
package notify

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agent-sterling-go/internal/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	queueSize      = 32
	maxMessageSize = 4000
)

// Sender delivers a Telegram message. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramHook is a logrus hook that sends error entries to a Telegram chat.
// Delivery is asynchronous; entries are dropped when the queue is full.
type TelegramHook struct {
	sender  Sender
	chatID  int64
	queue   chan string
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewTelegramHook authorizes the bot and starts the delivery goroutine
func NewTelegramHook(cfg config.TelegramConfig) (*TelegramHook, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram notifier requires token and chat_id")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramHookWithSender(bot, cfg.ChatID), nil
}

// NewTelegramHookWithSender creates a hook around an existing sender
func NewTelegramHookWithSender(sender Sender, chatID int64) *TelegramHook {
	h := &TelegramHook{
		sender: sender,
		chatID: chatID,
		queue:  make(chan string, queueSize),
	}
	h.wg.Add(1)
	go h.deliver()
	return h
}

// Levels implements logrus.Hook
func (h *TelegramHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

// Fire implements logrus.Hook. It never blocks the logging goroutine.
func (h *TelegramHook) Fire(entry *logrus.Entry) error {
	text := format(entry)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	select {
	case h.queue <- text:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Close stops accepting entries and waits for queued ones to be delivered
func (h *TelegramHook) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped returns how many entries were discarded on a full queue
func (h *TelegramHook) Dropped() int64 {
	return h.dropped.Load()
}

// Failed returns how many deliveries the Telegram API rejected
func (h *TelegramHook) Failed() int64 {
	return h.failed.Load()
}

func (h *TelegramHook) deliver() {
	defer h.wg.Done()
	for text := range h.queue {
		// Errors are counted, not logged: logging here would feed the hook again.
		if _, err := h.sender.Send(tgbotapi.NewMessage(h.chatID, text)); err != nil {
			h.failed.Add(1)
		}
	}
}

func format(entry *logrus.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", strings.ToUpper(entry.Level.String()))
	if service, ok := entry.Data["service"].(string); ok && service != "" {
		fmt.Fprintf(&b, "%s: ", service)
	}
	b.WriteString(entry.Message)
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok {
		fmt.Fprintf(&b, "\nerror: %v", err)
	}

	text := b.String()
	if len(text) > maxMessageSize {
		text = text[:maxMessageSize] + "..."
	}
	return text
}
