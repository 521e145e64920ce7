package handlers

import (
	"bytes"
	"context"
	"strings"

	"github.com/genai-tgbot-go/internal/i18n"
	"github.com/genai-tgbot-go/internal/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram's caption limit.
const maxCaptionLength = 1024

func (h *Handler) handleImage(ctx context.Context, req *request) error {
	generator, err := h.registry.Images(req.command.Kind)
	if err != nil {
		return err
	}

	h.chatAction(req, tgbotapi.ChatUploadPhoto)

	img, err := generator.GenerateImage(ctx, req.args)
	if err != nil {
		h.replyError(req)
		return err
	}

	var file tgbotapi.RequestFileData
	if img.URL != "" {
		file = tgbotapi.FileURL(img.URL)
	} else {
		file = tgbotapi.FileBytes{Name: "image" + extension(img.ContentType), Bytes: img.Data}
	}

	photo := tgbotapi.NewPhoto(req.chatID(), file)
	photo.Caption = h.security.SanitizeOutput(req.args, maxCaptionLength)
	photo.ReplyToMessageID = req.msg.MessageID
	if _, err := h.bot.Send(photo); err != nil {
		h.replyError(req)
		return err
	}
	return nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func (h *Handler) handleTranscribe(ctx context.Context, req *request) error {
	transcriber, err := h.registry.Transcriber(req.command.Kind)
	if err != nil {
		return err
	}

	fileID, filename := audioFile(req.msg.ReplyToMessage)
	if fileID == "" {
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgReplyToAudio, nil))
	}

	h.chatAction(req, tgbotapi.ChatTyping)

	audio, err := h.download(ctx, fileID)
	if err != nil {
		h.replyError(req)
		return err
	}

	text, err := transcriber.Transcribe(ctx, filename, bytes.NewReader(audio))
	if err != nil {
		h.replyError(req)
		return err
	}
	return h.reply(req, text)
}

// audioFile finds a voice note, audio file or audio document and a file
// name whose extension tells the API the format.
func audioFile(msg *tgbotapi.Message) (fileID, filename string) {
	if msg == nil {
		return "", ""
	}
	switch {
	case msg.Voice != nil:
		return msg.Voice.FileID, "voice.ogg"
	case msg.Audio != nil:
		name := msg.Audio.FileName
		if name == "" {
			name = "audio.mp3"
		}
		return msg.Audio.FileID, name
	case msg.VideoNote != nil:
		return msg.VideoNote.FileID, "video.mp4"
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "audio/"):
		return msg.Document.FileID, msg.Document.FileName
	}
	return "", ""
}

func (h *Handler) handleSpeech(ctx context.Context, req *request) error {
	speaker, err := h.registry.Speaker(req.command.Kind)
	if err != nil {
		return err
	}

	h.chatAction(req, tgbotapi.ChatRecordVoice)

	audio, err := speaker.Speak(ctx, req.args)
	if err != nil {
		h.replyError(req)
		return err
	}

	voice := tgbotapi.NewVoice(req.chatID(), tgbotapi.FileBytes{Name: "speech.ogg", Bytes: audio})
	voice.ReplyToMessageID = req.msg.MessageID
	if middleware.TextLength(req.args) <= maxCaptionLength {
		voice.Caption = req.args
	}
	if _, err := h.bot.Send(voice); err != nil {
		h.replyError(req)
		return err
	}
	return nil
}

// chatAction shows "uploading photo…" and similar while a provider works.
func (h *Handler) chatAction(req *request, action string) {
	if _, err := h.bot.Request(tgbotapi.NewChatAction(req.chatID(), action)); err != nil {
		req.log.WithError(err).Debug("Failed to send chat action")
	}
}
