package i18n

import (
	"testing"

	"github.com/agent-sterling-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultLocalizer tests the built-in messages
func TestDefaultLocalizer(t *testing.T) {
	l := NewDefaultLocalizer()

	assert.Contains(t, l.Default(MsgFallbackReply), "Thanks for reaching out")
	assert.Contains(t, l.Get("fr", MsgDMFallback, nil), "Thanks for your message")
	assert.Equal(t, "missing_id", l.Default("missing_id"))
}

// TestLoadMessageFiles tests loading translations from disk
func TestLoadMessageFiles(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"en", "es"},
		Directory:       "../../configs/i18n",
	})
	require.NoError(t, err)

	assert.Contains(t, l.Get("es", MsgFallbackReply, nil), "Gracias")
	assert.Contains(t, l.Get("en", MsgFallbackReply, nil), "Thanks")
}

// TestMissingMessageFile tests that a missing language file is reported
func TestMissingMessageFile(t *testing.T) {
	_, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"xx"},
		Directory:       t.TempDir(),
	})
	assert.Error(t, err)
}
