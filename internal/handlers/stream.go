package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/genai-tgbot-go/internal/i18n"
	"github.com/genai-tgbot-go/internal/middleware"
	"github.com/genai-tgbot-go/internal/services/ai"
	"github.com/genai-tgbot-go/internal/stream"
	"github.com/genai-tgbot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// opener starts a generation. It runs after the placeholder is posted so
// slow backends still show progress.
type opener func(ctx context.Context) (<-chan ai.Chunk, error)

// relay posts a placeholder and keeps editing it as fragments arrive.
// Partial edits are plain text with a progress marker; the final edit is
// rendered as HTML. On any failure the placeholder shows the localized
// error. It returns the full generated text.
func (h *Handler) relay(ctx context.Context, req *request, open opener) (string, error) {
	placeholder := tgbotapi.NewMessage(req.chatID(), h.localizer.Get(req.lang, i18n.MsgProcessing, nil))
	placeholder.ReplyToMessageID = req.msg.MessageID
	sent, err := h.bot.Send(placeholder)
	if err != nil {
		return "", fmt.Errorf("failed to send placeholder: %w", err)
	}
	msgID := sent.MessageID

	h.metrics.StreamStarted()
	defer h.metrics.StreamFinished()

	agg := stream.New(h.config.Stream.EditInterval, stream.WithClock(h.now))
	agg.Start()

	chunks, err := open(ctx)
	if err != nil {
		agg.Abort()
		h.editError(req, msgID)
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			agg.Abort()
			h.editError(req, msgID)
			return "", ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				emit := agg.Feed("", true)
				text := emit.Text
				if strings.TrimSpace(agg.Text()) == "" {
					text = h.localizer.Get(req.lang, i18n.MsgNoResponse, nil)
				}
				h.editFinal(ctx, req, msgID, text)
				return agg.Text(), nil
			}
			if chunk.Err != nil {
				agg.Abort()
				h.editError(req, msgID)
				return "", chunk.Err
			}

			if emit := agg.Feed(chunk.Text, false); emit.Kind == stream.Partial {
				h.editPartial(req, msgID, emit.Text)
			}
		}
	}
}

// editPartial shows progress. It is skipped, not delayed, when the chat
// is over its edit budget; the next partial or the final edit catches up.
func (h *Handler) editPartial(req *request, msgID int, text string) {
	if !h.throttle.Allow(req.chatID()) {
		h.metrics.RecordStreamEdit("partial", "throttled")
		return
	}

	marker := h.config.Stream.ProgressMarker
	limit := middleware.MaxMessageLength - middleware.TextLength(marker)
	body := h.security.SanitizeOutput(text, limit) + marker

	edit := tgbotapi.NewEditMessageText(req.chatID(), msgID, body)
	if _, err := h.bot.Send(edit); err != nil {
		h.metrics.RecordStreamEdit("partial", "error")
		req.log.WithError(err).Debug("Failed to edit partial answer")
		return
	}
	h.metrics.RecordStreamEdit("partial", "success")
}

// editFinal waits for the chat's edit budget, then sends the answer as
// Telegram HTML, falling back to plain text if Telegram rejects the markup.
// The markdown is cut to the message limit before conversion so no tag is split.
func (h *Handler) editFinal(ctx context.Context, req *request, msgID int, text string) {
	if err := h.throttle.Wait(ctx, req.chatID()); err != nil {
		req.log.WithError(err).Debug("Final edit not throttled")
	}

	text = h.security.SanitizeOutput(text, middleware.MaxMessageLength)
	edit := tgbotapi.NewEditMessageText(req.chatID(), msgID, markdown.ToTelegramHTML(text))
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := h.bot.Send(edit)
	if err == nil {
		h.metrics.RecordStreamEdit("final", "success")
		return
	}
	req.log.WithError(err).Warn("Failed to send HTML response, trying plain text")

	edit.ParseMode = ""
	edit.Text = text
	if _, err = h.bot.Send(edit); err != nil {
		h.metrics.RecordStreamEdit("final", "error")
		req.log.WithError(err).Error("Failed to send response")
		return
	}
	h.metrics.RecordStreamEdit("final", "fallback")
}

func (h *Handler) editError(req *request, msgID int) {
	edit := tgbotapi.NewEditMessageText(req.chatID(), msgID, h.localizer.Get(req.lang, i18n.MsgError, nil))
	if _, err := h.bot.Send(edit); err != nil {
		h.metrics.RecordStreamEdit("error", "error")
		req.log.WithError(err).Error("Failed to send error message")
		return
	}
	h.metrics.RecordStreamEdit("error", "success")
}

// single adapts a one-shot answer to the streaming relay.
func single(text string) <-chan ai.Chunk {
	ch := make(chan ai.Chunk, 1)
	ch <- ai.Chunk{Text: text}
	close(ch)
	return ch
}
