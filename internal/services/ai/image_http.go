package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FalClient generates images with a fal.ai hosted model.
type FalClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewFalClient(apiKey, baseURL, model string, logger *logrus.Logger) *FalClient {
	if baseURL == "" {
		baseURL = defaultBaseURL(KindFal)
	}
	if model == "" {
		model = "fal-ai/flux/schnell"
	}
	return &FalClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

// GenerateImage implements ImageGenerator.
func (c *FalClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":     prompt,
		"num_images": 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return withRetry(ctx, c.logger, KindFal, func(ctx context.Context) (*Image, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
		if err != nil {
			return nil, permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Key "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, statusError(KindFal, resp)
		}

		var result falResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if len(result.Images) == 0 || result.Images[0].URL == "" {
			return nil, permanent(ErrEmptyResponse)
		}
		return &Image{URL: result.Images[0].URL, ContentType: result.Images[0].ContentType}, nil
	})
}

// HuggingFaceClient calls the HuggingFace Inference API for text-to-image.
type HuggingFaceClient struct {
	baseURL    string
	token      string
	model      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHuggingFaceClient(token, baseURL, model string, logger *logrus.Logger) *HuggingFaceClient {
	if baseURL == "" {
		baseURL = defaultBaseURL(KindHuggingFace)
	}
	if model == "" {
		model = "stabilityai/stable-diffusion-xl-base-1.0"
	}
	return &HuggingFaceClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		model:      model,
		httpClient: &http.Client{Timeout: 180 * time.Second},
		logger:     logger,
	}
}

// GenerateImage implements ImageGenerator. The API answers with raw image
// bytes; a JSON body means an error or a model still loading (503).
func (c *HuggingFaceClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	body, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return withRetry(ctx, c.logger, KindHuggingFace, func(ctx context.Context) (*Image, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+c.model, bytes.NewReader(body))
		if err != nil {
			return nil, permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "image/png")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, statusError(KindHuggingFace, resp)
		}

		contentType := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, permanent(fmt.Errorf("huggingface returned %s: %s", contentType, string(msg)))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		if len(data) == 0 {
			return nil, permanent(ErrEmptyResponse)
		}
		return &Image{Data: data, ContentType: contentType}, nil
	})
}
