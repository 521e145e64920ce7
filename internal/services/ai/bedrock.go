package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/genai-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

const anthropicVersion = "bedrock-2023-05-31"

type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient answers chats with an Anthropic model hosted on AWS Bedrock.
type BedrockClient struct {
	client       bedrockInvoker
	modelID      string
	maxTokens    int
	systemPrompt string
	logger       *logrus.Logger
}

// NewBedrockClient resolves AWS credentials from the default chain
// (environment, shared config, instance role).
func NewBedrockClient(ctx context.Context, region, modelID string, maxTokens int, systemPrompt string, logger *logrus.Logger) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newBedrockClient(bedrockruntime.NewFromConfig(awsCfg), modelID, maxTokens, systemPrompt, logger), nil
}

func newBedrockClient(client bedrockInvoker, modelID string, maxTokens int, systemPrompt string, logger *logrus.Logger) *BedrockClient {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &BedrockClient{
		client:       client,
		modelID:      modelID,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

func (c *BedrockClient) ModelID() string { return c.modelID }

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete implements Completer. System messages move to the top-level
// system field.
func (c *BedrockClient) Complete(ctx context.Context, messages []models.Message) (string, error) {
	req := anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        c.maxTokens,
		System:           c.systemPrompt,
	}
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			req.System = msg.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	return withRetry(ctx, c.logger, KindBedrock, func(ctx context.Context) (string, error) {
		out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(c.modelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return "", classifyBedrock(err)
		}

		var resp anthropicResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return "", permanent(fmt.Errorf("failed to parse response: %w", err))
		}

		var text strings.Builder
		for _, part := range resp.Content {
			if part.Type == "text" {
				text.WriteString(part.Text)
			}
		}
		if strings.TrimSpace(text.String()) == "" {
			return "", permanent(ErrEmptyResponse)
		}
		return text.String(), nil
	})
}

func classifyBedrock(err error) error {
	var validation *types.ValidationException
	var denied *types.AccessDeniedException
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &validation) || errors.As(err, &denied) || errors.As(err, &notFound) {
		return permanent(err)
	}
	return err
}
