package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/genai-tgbot-go/internal/i18n"
	"github.com/genai-tgbot-go/internal/models"
	"github.com/genai-tgbot-go/internal/services/ai"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const defaultVisionPrompt = "Describe this image."

// maxDownloadSize bounds files fetched from Telegram (photos, voice notes).
const maxDownloadSize = 20 << 20

func (h *Handler) handleChat(ctx context.Context, req *request) error {
	streamer, err := h.registry.Chat(req.command.Kind)
	if err != nil {
		return err
	}

	release, err := h.chatLocks.Acquire(ctx, req.chatID())
	if err != nil {
		return err
	}
	defer release()

	chatCtx, err := h.loadContext(ctx, req.chatID())
	if err != nil {
		h.replyError(req)
		return err
	}
	chatCtx.Messages = append(chatCtx.Messages, models.Message{Role: models.RoleUser, Content: req.args})
	h.trimContext(chatCtx)

	answer, err := h.relay(ctx, req, func(ctx context.Context) (<-chan ai.Chunk, error) {
		return streamer.StreamChat(ctx, chatCtx.Messages)
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(answer) == "" {
		return nil
	}

	chatCtx.Messages = append(chatCtx.Messages, models.Message{Role: models.RoleAssistant, Content: answer})
	chatCtx.LastActivity = h.now()
	if err := h.storage.SaveContext(ctx, chatCtx); err != nil {
		req.log.WithError(err).Error("Failed to save context")
	}
	return nil
}

// handleCompletion answers in one shot without conversation history, so
// answers can be cached by question.
func (h *Handler) handleCompletion(ctx context.Context, req *request) error {
	completer, err := h.registry.Completer(req.command.Kind)
	if err != nil {
		return err
	}
	model := h.modelName(req.command)

	_, err = h.relay(ctx, req, func(ctx context.Context) (<-chan ai.Chunk, error) {
		if answer, found := h.cache.Get(req.args, model); found {
			req.log.Debug("Answer served from cache")
			return single(answer), nil
		}

		messages := []models.Message{{Role: models.RoleUser, Content: req.args}}
		if prompt := h.config.Context.DefaultSystemPrompt; prompt != "" {
			messages = append([]models.Message{{Role: models.RoleSystem, Content: prompt}}, messages...)
		}

		answer, err := completer.Complete(ctx, messages)
		if err != nil {
			return nil, err
		}
		h.cache.Set(req.args, model, answer)
		return single(answer), nil
	})
	return err
}

func (h *Handler) modelName(c Command) string {
	switch c.Kind {
	case ai.KindBedrock:
		return h.config.Providers.Bedrock.ModelID
	default:
		return c.Kind.String()
	}
}

func (h *Handler) handleVision(ctx context.Context, req *request) error {
	streamer, err := h.registry.Vision(req.command.Kind)
	if err != nil {
		return err
	}

	fileID, mimeType := photoFile(req.msg.ReplyToMessage)
	if fileID == "" {
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgReplyToPhoto, nil))
	}

	prompt := req.args
	if prompt == "" {
		prompt = defaultVisionPrompt
	} else if err := h.security.ValidateInput(prompt); err != nil {
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgPromptInvalid, map[string]interface{}{"Reason": err.Error()}))
	}

	image, err := h.download(ctx, fileID)
	if err != nil {
		h.replyError(req)
		return err
	}

	_, err = h.relay(ctx, req, func(ctx context.Context) (<-chan ai.Chunk, error) {
		return streamer.StreamVision(ctx, prompt, image, mimeType)
	})
	return err
}

// photoFile picks the largest photo size, or an image sent as a document.
func photoFile(msg *tgbotapi.Message) (fileID, mimeType string) {
	if msg == nil {
		return "", ""
	}
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID, "image/jpeg"
	}
	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		return doc.FileID, doc.MimeType
	}
	return "", ""
}

func (h *Handler) loadContext(ctx context.Context, chatID int64) (*models.ChatContext, error) {
	chatCtx, err := h.storage.GetContext(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chatCtx == nil {
		chatCtx = &models.ChatContext{ChatID: chatID, LastActivity: h.now()}
		if prompt := h.config.Context.DefaultSystemPrompt; prompt != "" {
			chatCtx.Messages = []models.Message{{Role: models.RoleSystem, Content: prompt}}
		}
	}
	return chatCtx, nil
}

// trimContext keeps the system prompt plus the last max_messages turns.
func (h *Handler) trimContext(chatCtx *models.ChatContext) {
	maxMessages := h.config.Context.MaxMessages
	if maxMessages <= 0 {
		return
	}

	var head []models.Message
	rest := chatCtx.Messages
	if len(rest) > 0 && rest[0].Role == models.RoleSystem {
		head, rest = rest[:1], rest[1:]
	}
	if len(rest) <= maxMessages {
		return
	}
	trimmed := make([]models.Message, 0, len(head)+maxMessages)
	trimmed = append(trimmed, head...)
	chatCtx.Messages = append(trimmed, rest[len(rest)-maxMessages:]...)
}

// download fetches a file the user sent to the bot.
func (h *Handler) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := h.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file larger than %d bytes", maxDownloadSize)
	}
	return data, nil
}
