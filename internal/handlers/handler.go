package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/i18n"
	"github.com/genai-tgbot-go/internal/middleware"
	"github.com/genai-tgbot-go/internal/ratelimit"
	"github.com/genai-tgbot-go/internal/services/ai"
	"github.com/genai-tgbot-go/internal/services/cache"
	"github.com/genai-tgbot-go/internal/services/storage"
	"github.com/genai-tgbot-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Bot is the subset of *tgbotapi.BotAPI the handlers use.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Handler dispatches bot commands to local actions or AI providers.
type Handler struct {
	bot        Bot
	config     *config.Config
	registry   *ai.Registry
	limiter    *ratelimit.Limiter
	storage    *storage.Manager
	cache      cache.Service
	localizer  *i18n.Localizer
	metrics    *middleware.Metrics
	security   *middleware.SecurityMiddleware
	throttle   *middleware.ChatThrottle
	chatLocks  *middleware.ChatLocks
	httpClient *http.Client
	now        func() time.Time
	logger     *logrus.Logger

	wg sync.WaitGroup
}

// NewHandler creates a new command handler
func NewHandler(
	bot Bot,
	cfg *config.Config,
	registry *ai.Registry,
	limiter *ratelimit.Limiter,
	storage *storage.Manager,
	cache cache.Service,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		bot:        bot,
		config:     cfg,
		registry:   registry,
		limiter:    limiter,
		storage:    storage,
		cache:      cache,
		localizer:  localizer,
		metrics:    metrics,
		security:   middleware.NewSecurityMiddleware(logger),
		throttle:   middleware.NewChatThrottle(cfg.Stream.EditsPerSecond, cfg.Stream.EditBurst),
		chatLocks:  middleware.NewChatLocks(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
		logger:     logger,
	}
}

// Throttle exposes the per-chat edit throttle so the caller can sweep it.
func (h *Handler) Throttle() *middleware.ChatThrottle {
	return h.throttle
}

// Run consumes updates until ctx is cancelled or the channel closes. Each
// update is handled on its own goroutine; chat commands in the same chat
// take turns on the conversation context. Run waits for them before
// returning.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	defer h.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			h.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer h.wg.Done()
				h.HandleUpdate(ctx, update)
			}(update)
		}
	}
}

// HandleUpdate processes one update. Only commands are acted on.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	chatType := "private"
	if msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() {
		chatType = "group"
	}
	h.metrics.RecordMessageReceived(chatType)

	if !msg.IsCommand() {
		return
	}

	if timeout := h.config.Bot.HandlerTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := h.HandleCommand(ctx, msg); err != nil {
		logger.WithCommand(h.logger, msg.Chat.ID, msg.From.ID, msg.Command()).
			WithError(err).Error("Failed to handle command")
	}
}

// request carries everything a command needs about the incoming message.
type request struct {
	msg     *tgbotapi.Message
	command Command
	args    string
	lang    string
	log     *logrus.Entry
}

func (r *request) chatID() int64 { return r.msg.Chat.ID }
func (r *request) userID() int64 { return r.msg.From.ID }

// HandleCommand processes telegram commands
func (h *Handler) HandleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	name := strings.ToLower(msg.Command())
	req := &request{
		msg:  msg,
		args: strings.TrimSpace(msg.CommandArguments()),
		lang: h.userLanguage(ctx, msg.From),
		log:  logger.WithCommand(h.logger, msg.Chat.ID, msg.From.ID, name),
	}

	command, ok := LookupCommand(name)
	if !ok {
		h.metrics.RecordCommand("unknown", "unknown")
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgUnknownCommand, nil))
	}
	req.command = command

	if err := h.storage.RecordCommand(ctx, req.userID(), name); err != nil {
		req.log.WithError(err).Warn("Failed to record command stats")
	}

	if command.Modality == ModalityLocal {
		err := h.handleLocal(ctx, req)
		h.metrics.RecordCommand(name, status(err))
		return err
	}

	if ok, err := h.admit(ctx, req); !ok {
		return err
	}

	start := h.now()
	err := h.dispatch(ctx, req)
	h.metrics.RecordProviderRequest(command.Kind.String(), status(err), h.now().Sub(start))
	h.metrics.RecordCommand(name, status(err))

	if err != nil {
		req.log.WithError(err).WithField("provider", command.Kind.String()).Error("Command failed")
	}
	return nil
}

// admit runs the checks that must pass before a provider is called: the
// prompt is present and valid, the provider is configured, and the user
// is within the command's rate limit.
func (h *Handler) admit(ctx context.Context, req *request) (bool, error) {
	name := req.command.Name

	if needsPrompt(req.command.Modality) {
		if req.args == "" {
			h.metrics.RecordCommand(name, "invalid")
			return false, h.reply(req, h.localizer.Get(req.lang, i18n.MsgMissingPrompt, map[string]interface{}{"Command": name}))
		}
		if err := h.security.ValidateInput(req.args); err != nil {
			h.metrics.RecordCommand(name, "invalid")
			req.log.WithError(err).Warn("Input validation failed")
			return false, h.reply(req, h.localizer.Get(req.lang, i18n.MsgPromptInvalid, map[string]interface{}{"Reason": err.Error()}))
		}
	}

	if !h.registry.Configured(req.command.Kind) {
		h.metrics.RecordCommand(name, "unavailable")
		return false, h.reply(req, h.localizer.Get(req.lang, i18n.MsgProviderUnavailable, map[string]interface{}{"Command": name}))
	}

	decision := h.limiter.Check(ctx, req.userID(), name)
	if !decision.Allowed {
		seconds := decision.SecondsRemaining()
		if seconds < 1 {
			seconds = 1
		}
		h.metrics.RecordCommand(name, "rate_limited")
		return false, h.reply(req, h.localizer.Get(req.lang, i18n.MsgRateLimitExceeded, map[string]interface{}{
			"Command": name,
			"Seconds": seconds,
		}))
	}
	return true, nil
}

func needsPrompt(m Modality) bool {
	switch m {
	case ModalityChat, ModalityCompletion, ModalityImage, ModalitySpeech:
		return true
	default:
		return false
	}
}

func (h *Handler) dispatch(ctx context.Context, req *request) error {
	switch req.command.Modality {
	case ModalityChat:
		return h.handleChat(ctx, req)
	case ModalityCompletion:
		return h.handleCompletion(ctx, req)
	case ModalityVision:
		return h.handleVision(ctx, req)
	case ModalityImage:
		return h.handleImage(ctx, req)
	case ModalityTranscribe:
		return h.handleTranscribe(ctx, req)
	case ModalitySpeech:
		return h.handleSpeech(ctx, req)
	default:
		return h.handleLocal(ctx, req)
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// userLanguage prefers the stored choice, then the Telegram client language.
func (h *Handler) userLanguage(ctx context.Context, user *tgbotapi.User) string {
	settings, err := h.storage.GetUserSettings(ctx, user.ID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to load user settings")
	}
	if settings != nil && h.localizer.Supported(settings.Language) {
		return settings.Language
	}
	return h.localizer.Resolve(user.LanguageCode)
}

func (h *Handler) reply(req *request, text string) error {
	msg := tgbotapi.NewMessage(req.chatID(), h.security.SanitizeOutput(text, middleware.MaxMessageLength))
	msg.ReplyToMessageID = req.msg.MessageID
	_, err := h.bot.Send(msg)
	return err
}

func (h *Handler) replyError(req *request) {
	if err := h.reply(req, h.localizer.Get(req.lang, i18n.MsgError, nil)); err != nil {
		req.log.WithError(err).Error("Failed to send error message")
	}
}
