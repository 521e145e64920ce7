package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Registry holds one client per configured backend. Callers ask for the
// capability they need; a backend that is missing or lacks the capability
// yields ErrNotConfigured.
type Registry struct {
	mu        sync.RWMutex
	providers map[Kind]interface{}
	logger    *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		providers: make(map[Kind]interface{}),
		logger:    logger,
	}
}

// NewRegistryFromConfig builds a client for every backend that has
// credentials. Backends that fail to initialise are logged and skipped.
func NewRegistryFromConfig(ctx context.Context, cfg *config.ProvidersConfig, logger *logrus.Logger) *Registry {
	r := NewRegistry(logger)

	for _, kind := range Kinds {
		provider, err := newProvider(ctx, kind, cfg, logger)
		if err != nil {
			logger.WithError(err).WithField("provider", kind.String()).Warn("Provider disabled")
			continue
		}
		if provider == nil {
			logger.WithField("provider", kind.String()).Debug("Provider not configured")
			continue
		}
		r.Register(kind, provider)
	}

	logger.WithField("providers", len(r.providers)).Info("AI providers initialized")
	return r
}

func newProvider(ctx context.Context, kind Kind, cfg *config.ProvidersConfig, logger *logrus.Logger) (interface{}, error) {
	switch kind {
	case KindOpenAI:
		c := cfg.OpenAI
		if c.APIKey == "" {
			return nil, nil
		}
		m := chatModels(c.ChatConfig)
		m.Vision = c.VisionModel
		m.Image = c.ImageModel
		m.ImageSize = c.ImageSize
		m.TTS = c.TTSModel
		m.TTSVoice = c.TTSVoice
		return NewOpenAIClient(kind, c.APIKey, c.BaseURL, m, logger), nil
	case KindGroq:
		c := cfg.Groq
		if c.APIKey == "" {
			return nil, nil
		}
		m := chatModels(c.ChatConfig)
		m.Transcribe = c.WhisperModel
		return NewOpenAIClient(kind, c.APIKey, c.BaseURL, m, logger), nil
	case KindPerplexity:
		c := cfg.Perplexity
		if c.APIKey == "" {
			return nil, nil
		}
		return NewOpenAIClient(kind, c.APIKey, c.BaseURL, chatModels(c), logger), nil
	case KindTogether:
		c := cfg.Together
		if c.APIKey == "" {
			return nil, nil
		}
		m := chatModels(c.ChatConfig)
		m.Image = c.ImageModel
		return NewOpenAIClient(kind, c.APIKey, c.BaseURL, m, logger), nil
	case KindOllama:
		c := cfg.Ollama
		if c.BaseURL == "" {
			return nil, nil
		}
		return NewOllamaClient(c.BaseURL, c.ChatModel, c.SystemPrompt, logger), nil
	case KindBedrock:
		c := cfg.Bedrock
		if c.Region == "" || c.ModelID == "" {
			return nil, nil
		}
		return NewBedrockClient(ctx, c.Region, c.ModelID, c.MaxTokens, "", logger)
	case KindFal:
		c := cfg.Fal
		if c.APIKey == "" {
			return nil, nil
		}
		return NewFalClient(c.APIKey, c.BaseURL, c.Model, logger), nil
	case KindHuggingFace:
		c := cfg.HuggingFace
		if c.APIKey == "" {
			return nil, nil
		}
		return NewHuggingFaceClient(c.APIKey, c.BaseURL, c.Model, logger), nil
	case KindComfyUI:
		c := cfg.ComfyUI
		if c.BaseURL == "" || c.WorkflowPath == "" {
			return nil, nil
		}
		return LoadComfyUIClient(c.BaseURL, c.WorkflowPath, c.PromptNode, c.Timeout, logger)
	default:
		return nil, fmt.Errorf("unknown provider kind %d", int(kind))
	}
}

// Register installs or replaces the client for kind.
func (r *Registry) Register(kind Kind, provider interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[kind] = provider
}

// Configured reports whether kind has a client.
func (r *Registry) Configured(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[kind]
	return ok
}

func (r *Registry) get(kind Kind) interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[kind]
}

func notConfigured(kind Kind, capability string) error {
	return fmt.Errorf("%s %s: %w", kind, capability, ErrNotConfigured)
}

func (r *Registry) Chat(kind Kind) (ChatStreamer, error) {
	if p, ok := r.get(kind).(ChatStreamer); ok {
		return p, nil
	}
	return nil, notConfigured(kind, "chat")
}

func (r *Registry) Vision(kind Kind) (VisionStreamer, error) {
	if p, ok := r.get(kind).(VisionStreamer); ok {
		return p, nil
	}
	return nil, notConfigured(kind, "vision")
}

func (r *Registry) Completer(kind Kind) (Completer, error) {
	if p, ok := r.get(kind).(Completer); ok {
		return p, nil
	}
	return nil, notConfigured(kind, "completion")
}

func (r *Registry) Images(kind Kind) (ImageGenerator, error) {
	if p, ok := r.get(kind).(ImageGenerator); ok {
		return p, nil
	}
	return nil, notConfigured(kind, "images")
}

func (r *Registry) Transcriber(kind Kind) (Transcriber, error) {
	if p, ok := r.get(kind).(Transcriber); ok {
		return p, nil
	}
	return nil, notConfigured(kind, "transcription")
}

func (r *Registry) Speaker(kind Kind) (Speaker, error) {
	if p, ok := r.get(kind).(Speaker); ok {
		return p, nil
	}
	return nil, notConfigured(kind, "speech")
}
