package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/agent-sterling-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the message files in cfg.Directory
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := newBundle()

	// Load language files
	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.json", lang))
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	return newLocalizer(bundle, cfg.DefaultLanguage, cfg.Languages), nil
}

// NewDefaultLocalizer returns a localizer carrying only the built-in English messages
func NewDefaultLocalizer() *Localizer {
	return newLocalizer(newBundle(), "en", []string{"en"})
}

func newBundle() *i18n.Bundle {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	bundle.AddMessages(language.English, defaultMessages...)
	return bundle
}

func newLocalizer(bundle *i18n.Bundle, defaultLanguage string, languages []string) *Localizer {
	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang, defaultLanguage)
	}
	if _, ok := localizers[defaultLanguage]; !ok {
		localizers[defaultLanguage] = i18n.NewLocalizer(bundle, defaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Default returns the message in the default language
func (l *Localizer) Default(messageID string) string {
	return l.Get(l.defaultLanguage, messageID, nil)
}

// Message IDs
const (
	MsgFallbackReply = "fallback_reply"
	MsgDMFallback    = "dm_fallback"
)

var defaultMessages = []*i18n.Message{
	{ID: MsgFallbackReply, Other: "Thanks for reaching out! I'm having a moment, but I'll be back with something fun soon 🤖"},
	{ID: MsgDMFallback, Other: "Thanks for your message! I'm a bit busy right now but I'll get back to you soon 💬"},
}
