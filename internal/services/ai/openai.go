package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIModels selects the model used for each modality.
type OpenAIModels struct {
	Chat         string
	Vision       string
	Image        string
	ImageSize    string
	TTS          string
	TTSVoice     string
	Transcribe   string
	SystemPrompt string
	MaxTokens    int
}

// OpenAIClient talks to any OpenAI-compatible API (OpenAI, Groq,
// Perplexity, Together).
type OpenAIClient struct {
	kind   Kind
	client *openai.Client
	models OpenAIModels
	logger *logrus.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible backend. An empty
// base URL selects the backend's public endpoint.
func NewOpenAIClient(kind Kind, apiKey, baseURL string, m OpenAIModels, logger *logrus.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultBaseURL(kind)
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}

	return &OpenAIClient{
		kind:   kind,
		client: openai.NewClientWithConfig(cfg),
		models: m,
		logger: logger,
	}
}

func chatModels(c config.ChatConfig) OpenAIModels {
	return OpenAIModels{
		Chat:         c.ChatModel,
		SystemPrompt: c.SystemPrompt,
		MaxTokens:    c.MaxTokens,
	}
}

func (c *OpenAIClient) Kind() Kind { return c.kind }

func toOpenAIMessages(systemPrompt string, messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" && (len(messages) == 0 || messages[0].Role != models.RoleSystem) {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// StreamChat implements ChatStreamer.
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []models.Message) (<-chan Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.models.Chat,
		Messages:  toOpenAIMessages(c.models.SystemPrompt, messages),
		MaxTokens: c.models.MaxTokens,
		Stream:    true,
	}
	return c.stream(ctx, req)
}

// StreamVision implements VisionStreamer. The image is sent inline as a data URL.
func (c *OpenAIClient) StreamVision(ctx context.Context, prompt string, image []byte, mimeType string) (<-chan Chunk, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	req := openai.ChatCompletionRequest{
		Model:     c.models.Vision,
		MaxTokens: c.models.MaxTokens,
		Stream:    true,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	}
	return c.stream(ctx, req)
}

func (c *OpenAIClient) stream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan Chunk, error) {
	stream, err := withRetry(ctx, c.logger, c.kind, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
		s, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, classifyOpenAI(err)
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", c.kind, err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("%s stream: %w", c.kind, err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if !send(ctx, out, Chunk{Text: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, messages []models.Message) (string, error) {
	return withRetry(ctx, c.logger, c.kind, func(ctx context.Context) (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.models.Chat,
			Messages:  toOpenAIMessages(c.models.SystemPrompt, messages),
			MaxTokens: c.models.MaxTokens,
		})
		if err != nil {
			return "", classifyOpenAI(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", permanent(ErrEmptyResponse)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// GenerateImage implements ImageGenerator.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	format := openai.CreateImageResponseFormatURL
	if c.kind == KindTogether {
		format = openai.CreateImageResponseFormatB64JSON
	}

	return withRetry(ctx, c.logger, c.kind, func(ctx context.Context) (*Image, error) {
		resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          c.models.Image,
			Size:           c.models.ImageSize,
			N:              1,
			ResponseFormat: format,
		})
		if err != nil {
			return nil, classifyOpenAI(err)
		}
		if len(resp.Data) == 0 {
			return nil, permanent(ErrEmptyResponse)
		}

		data := resp.Data[0]
		if data.B64JSON != "" {
			raw, err := base64.StdEncoding.DecodeString(data.B64JSON)
			if err != nil {
				return nil, permanent(fmt.Errorf("failed to decode image: %w", err))
			}
			return &Image{Data: raw, ContentType: "image/png"}, nil
		}
		if data.URL == "" {
			return nil, permanent(ErrEmptyResponse)
		}
		return &Image{URL: data.URL}, nil
	})
}

// Transcribe implements Transcriber. The audio is buffered so every attempt
// can resend it.
func (c *OpenAIClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	raw, err := io.ReadAll(audio)
	if err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}

	return withRetry(ctx, c.logger, c.kind, func(ctx context.Context) (string, error) {
		resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.models.Transcribe,
			FilePath: filename,
			Reader:   bytes.NewReader(raw),
		})
		if err != nil {
			return "", classifyOpenAI(err)
		}
		if strings.TrimSpace(resp.Text) == "" {
			return "", permanent(ErrEmptyResponse)
		}
		return resp.Text, nil
	})
}

// Speak implements Speaker.
func (c *OpenAIClient) Speak(ctx context.Context, text string) ([]byte, error) {
	return withRetry(ctx, c.logger, c.kind, func(ctx context.Context) ([]byte, error) {
		resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(c.models.TTS),
			Input:          text,
			Voice:          openai.SpeechVoice(c.models.TTSVoice),
			ResponseFormat: openai.SpeechResponseFormatOpus,
		})
		if err != nil {
			return nil, classifyOpenAI(err)
		}
		defer resp.Close()

		audio, err := io.ReadAll(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to read speech: %w", err)
		}
		if len(audio) == 0 {
			return nil, permanent(ErrEmptyResponse)
		}
		return audio, nil
	})
}
