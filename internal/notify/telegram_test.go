package notify

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/agent-sterling-go/internal/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	err      error
	block    chan struct{}
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.messages = append(s.messages, msg)
	}
	return tgbotapi.Message{}, s.err
}

func (s *recordingSender) sent() []tgbotapi.MessageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), s.messages...)
}

func newLogger(hook logrus.Hook) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(hook)
	return logger
}

// TestHookSendsErrors tests that only error entries reach the chat
func TestHookSendsErrors(t *testing.T) {
	sender := &recordingSender{}
	hook := NewTelegramHookWithSender(sender, 42)
	logger := newLogger(hook)

	logger.Info("started")
	logger.Warn("slow")
	logger.WithField("service", "dm").WithError(errors.New("timeout")).Error("Failed to fetch conversations")
	hook.Close()

	messages := sender.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, int64(42), messages[0].ChatID)
	assert.Equal(t, "[ERROR] dm: Failed to fetch conversations\nerror: timeout", messages[0].Text)
}

// TestHookDropsWhenFull tests that a stalled chat never blocks logging
func TestHookDropsWhenFull(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	hook := NewTelegramHookWithSender(sender, 1)
	logger := newLogger(hook)

	for i := 0; i < queueSize+10; i++ {
		logger.Error("boom")
	}
	assert.Greater(t, hook.Dropped(), int64(0))

	close(sender.block)
	hook.Close()
	assert.LessOrEqual(t, len(sender.sent()), queueSize+1)

	logger.Error("after close")
	hook.Close()
}

// TestHookCountsFailures tests failed deliveries
func TestHookCountsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("forbidden")}
	hook := NewTelegramHookWithSender(sender, 1)
	logger := newLogger(hook)

	logger.Error("one")
	logger.Error("two")
	hook.Close()
	assert.Equal(t, int64(2), hook.Failed())
}

// TestNewTelegramHookValidates tests the required settings
func TestNewTelegramHookValidates(t *testing.T) {
	_, err := NewTelegramHook(config.TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegramHook(config.TelegramConfig{Token: "token"})
	assert.Error(t, err)
}
