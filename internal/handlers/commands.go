package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/ratelimit"
	"github.com/genai-tgbot-go/internal/services/ai"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Modality is what a command asks a provider to produce.
type Modality int

const (
	ModalityLocal Modality = iota
	ModalityChat
	ModalityCompletion
	ModalityVision
	ModalityImage
	ModalityTranscribe
	ModalitySpeech
)

func (m Modality) String() string {
	switch m {
	case ModalityLocal:
		return "local"
	case ModalityChat:
		return "chat"
	case ModalityCompletion:
		return "completion"
	case ModalityVision:
		return "vision"
	case ModalityImage:
		return "image"
	case ModalityTranscribe:
		return "transcribe"
	case ModalitySpeech:
		return "speech"
	default:
		return fmt.Sprintf("modality(%d)", int(m))
	}
}

// Command is one row of the command table.
type Command struct {
	Name        string
	Kind        ai.Kind
	Modality    Modality
	Description string
	// DefaultLimit applies unless rate_limit.commands overrides it.
	// Local commands have none.
	DefaultLimit config.RateLimitRule
}

func perMinute(n int) config.RateLimitRule {
	return config.RateLimitRule{Quota: n, Window: time.Minute}
}

func perFiveMinutes(n int) config.RateLimitRule {
	return config.RateLimitRule{Quota: n, Window: 5 * time.Minute}
}

var commandTable = []Command{
	{Name: "ask", Kind: ai.KindOpenAI, Modality: ModalityChat, Description: "Chat with OpenAI", DefaultLimit: perMinute(10)},
	{Name: "groq", Kind: ai.KindGroq, Modality: ModalityChat, Description: "Chat with Groq", DefaultLimit: perMinute(10)},
	{Name: "pplx", Kind: ai.KindPerplexity, Modality: ModalityChat, Description: "Ask Perplexity", DefaultLimit: perMinute(5)},
	{Name: "together", Kind: ai.KindTogether, Modality: ModalityChat, Description: "Chat with Together", DefaultLimit: perMinute(10)},
	{Name: "llama", Kind: ai.KindOllama, Modality: ModalityChat, Description: "Chat with local Llama", DefaultLimit: perMinute(10)},
	{Name: "claude", Kind: ai.KindBedrock, Modality: ModalityCompletion, Description: "Ask Claude", DefaultLimit: perMinute(5)},
	{Name: "vision", Kind: ai.KindOpenAI, Modality: ModalityVision, Description: "Ask about a photo", DefaultLimit: perMinute(5)},
	{Name: "image", Kind: ai.KindOpenAI, Modality: ModalityImage, Description: "Draw with DALL·E", DefaultLimit: perFiveMinutes(3)},
	{Name: "flux", Kind: ai.KindFal, Modality: ModalityImage, Description: "Draw with FLUX", DefaultLimit: perFiveMinutes(3)},
	{Name: "sdxl", Kind: ai.KindTogether, Modality: ModalityImage, Description: "Draw with SDXL", DefaultLimit: perFiveMinutes(3)},
	{Name: "hf", Kind: ai.KindHuggingFace, Modality: ModalityImage, Description: "Draw with HuggingFace", DefaultLimit: perFiveMinutes(3)},
	{Name: "comfy", Kind: ai.KindComfyUI, Modality: ModalityImage, Description: "Run the ComfyUI workflow", DefaultLimit: perFiveMinutes(2)},
	{Name: "transcribe", Kind: ai.KindGroq, Modality: ModalityTranscribe, Description: "Transcribe a voice message", DefaultLimit: perMinute(5)},
	{Name: "tts", Kind: ai.KindOpenAI, Modality: ModalitySpeech, Description: "Read text aloud", DefaultLimit: perMinute(5)},
	{Name: "start", Modality: ModalityLocal, Description: "Start the bot"},
	{Name: "help", Modality: ModalityLocal, Description: "List commands"},
	{Name: "clear", Modality: ModalityLocal, Description: "Forget this conversation"},
	{Name: "stats", Modality: ModalityLocal, Description: "Show your usage"},
	{Name: "limits", Modality: ModalityLocal, Description: "Show rate limits"},
	{Name: "lang", Modality: ModalityLocal, Description: "Change language"},
}

var commandIndex = func() map[string]Command {
	idx := make(map[string]Command, len(commandTable))
	for _, c := range commandTable {
		idx[c.Name] = c
	}
	return idx
}()

// Commands returns the command table in menu order.
func Commands() []Command {
	return append([]Command(nil), commandTable...)
}

// LookupCommand finds a command by name (without the leading slash).
func LookupCommand(name string) (Command, bool) {
	c, ok := commandIndex[name]
	return c, ok
}

// EffectiveLimits merges the configured overrides into the default limits.
// Local commands are never limited. An override for a command that does not
// exist is an error.
func EffectiveLimits(cfg config.RateLimitConfig) (map[string]config.RateLimitRule, error) {
	limits := make(map[string]config.RateLimitRule)
	if !cfg.Enabled {
		return limits, nil
	}

	for _, c := range commandTable {
		if c.Modality != ModalityLocal {
			limits[c.Name] = c.DefaultLimit
		}
	}

	for _, name := range cfg.SortedCommands() {
		c, ok := commandIndex[name]
		if !ok {
			return nil, fmt.Errorf("rate_limit.commands: unknown command %q", name)
		}
		if c.Modality == ModalityLocal {
			return nil, fmt.Errorf("rate_limit.commands: /%s is not rate limited", name)
		}
		limits[name] = cfg.Commands[name]
	}
	return limits, nil
}

// RegisterLimits installs the effective limits on l.
func RegisterLimits(l *ratelimit.Limiter, cfg config.RateLimitConfig) error {
	limits, err := EffectiveLimits(cfg)
	if err != nil {
		return err
	}
	for name, rule := range limits {
		if err := l.RegisterLimit(name, rule.Quota, rule.Window); err != nil {
			return err
		}
	}
	return nil
}

// BotCommands is the menu published with setMyCommands.
func BotCommands() tgbotapi.SetMyCommandsConfig {
	cmds := make([]tgbotapi.BotCommand, 0, len(commandTable))
	for _, c := range commandTable {
		cmds = append(cmds, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	return tgbotapi.NewSetMyCommands(cmds...)
}

// formatWindow prints a window the way people write it: 1m, 5m, 30s, 1h30m.
func formatWindow(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
