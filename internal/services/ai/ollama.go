package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/genai-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

// OllamaClient streams chat completions from a local Ollama server.
type OllamaClient struct {
	baseURL      string
	model        string
	systemPrompt string
	httpClient   *http.Client
	logger       *logrus.Logger
}

func NewOllamaClient(baseURL, model, systemPrompt string, logger *logrus.Logger) *OllamaClient {
	return &OllamaClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		model:        model,
		systemPrompt: systemPrompt,
		// no client timeout: generation length is bounded by the caller's ctx
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type ollamaChatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// StreamChat implements ChatStreamer over Ollama's newline-delimited JSON.
func (c *OllamaClient) StreamChat(ctx context.Context, messages []models.Message) (<-chan Chunk, error) {
	msgs := messages
	if c.systemPrompt != "" && (len(messages) == 0 || messages[0].Role != models.RoleSystem) {
		msgs = append([]models.Message{{Role: models.RoleSystem, Content: c.systemPrompt}}, messages...)
	}

	body, err := json.Marshal(ollamaChatRequest{Model: c.model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := withRetry(ctx, c.logger, KindOllama, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, statusError(KindOllama, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var msg ollamaChatLine
			if err := json.Unmarshal(line, &msg); err != nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("ollama stream: bad line: %w", err)})
				return
			}
			if msg.Error != "" {
				send(ctx, out, Chunk{Err: fmt.Errorf("ollama stream: %s", msg.Error)})
				return
			}
			if msg.Message.Content != "" && !send(ctx, out, Chunk{Text: msg.Message.Content}) {
				return
			}
			if msg.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, out, Chunk{Err: fmt.Errorf("ollama stream: %w", err)})
			return
		}
		send(ctx, out, Chunk{Err: fmt.Errorf("ollama stream: connection closed before done")})
	}()
	return out, nil
}
