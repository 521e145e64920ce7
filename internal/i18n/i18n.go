package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	languages       []string
	matcher         language.Matcher
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer loads one <lang>.json file per configured language from cfg.Directory.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	dir := cfg.Directory
	if dir == "" {
		dir = "configs/i18n"
	}

	// the default language goes first so the matcher falls back to it
	languages := []string{cfg.DefaultLanguage}
	for _, lang := range cfg.Languages {
		if lang != cfg.DefaultLanguage {
			languages = append(languages, lang)
		}
	}

	tags := make([]language.Tag, 0, len(languages))
	localizers := make(map[string]*i18n.Localizer, len(languages))
	for _, lang := range languages {
		if _, err := bundle.LoadMessageFile(filepath.Join(dir, lang+".json")); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
		tags = append(tags, language.Make(lang))
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		languages:       languages,
		matcher:         language.NewMatcher(tags),
		localizers:      localizers,
	}, nil
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

// Resolve maps a client language code (e.g. Telegram's "zh-hans" or
// "en-US") to the closest loaded language.
func (l *Localizer) Resolve(code string) string {
	if code == "" {
		return l.defaultLanguage
	}
	_, index, confidence := l.matcher.Match(language.Make(code))
	if confidence == language.No {
		return l.defaultLanguage
	}
	return l.languages[index]
}

// Supported reports whether lang was loaded.
func (l *Localizer) Supported(lang string) bool {
	_, ok := l.localizers[lang]
	return ok
}

// Languages returns the loaded languages, default first.
func (l *Localizer) Languages() []string {
	return append([]string(nil), l.languages...)
}

func (l *Localizer) DefaultLanguage() string { return l.defaultLanguage }

// Message IDs
const (
	MsgWelcome             = "welcome"
	MsgHelp                = "help"
	MsgContextCleared      = "context_cleared"
	MsgStats               = "stats"
	MsgLimits              = "limits"
	MsgLimitsEmpty         = "limits_empty"
	MsgLanguageChanged     = "language_changed"
	MsgLanguageInvalid     = "language_invalid"
	MsgUnknownCommand      = "unknown_command"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgProviderUnavailable = "provider_unavailable"
	MsgError               = "error"
	MsgProcessing          = "processing"
	MsgMissingPrompt       = "missing_prompt"
	MsgPromptInvalid       = "prompt_invalid"
	MsgReplyToPhoto        = "reply_to_photo"
	MsgReplyToAudio        = "reply_to_audio"
	MsgNoResponse          = "no_response"
)
