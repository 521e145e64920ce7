package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/genai-tgbot-go/internal/i18n"
	"github.com/genai-tgbot-go/internal/models"
)

func (h *Handler) handleLocal(ctx context.Context, req *request) error {
	switch req.command.Name {
	case "start":
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgWelcome, map[string]interface{}{
			"Name": req.msg.From.FirstName,
		}))
	case "help":
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgHelp, nil))
	case "clear":
		return h.handleClear(ctx, req)
	case "stats":
		return h.handleStats(ctx, req)
	case "limits":
		return h.handleLimits(req)
	case "lang":
		return h.handleLang(ctx, req)
	default:
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgUnknownCommand, nil))
	}
}

func (h *Handler) handleClear(ctx context.Context, req *request) error {
	if err := h.storage.DeleteContext(ctx, req.chatID()); err != nil {
		h.replyError(req)
		return err
	}
	return h.reply(req, h.localizer.Get(req.lang, i18n.MsgContextCleared, nil))
}

func (h *Handler) handleStats(ctx context.Context, req *request) error {
	stats, err := h.storage.GetUserStats(ctx, req.userID())
	if err != nil {
		h.replyError(req)
		return err
	}

	names := make([]string, 0, len(stats.Commands))
	for name := range stats.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines strings.Builder
	for _, name := range names {
		fmt.Fprintf(&lines, "/%s: %d\n", name, stats.Commands[name])
	}

	lastSeen := "-"
	if !stats.LastSeen.IsZero() {
		lastSeen = stats.LastSeen.UTC().Format("2006-01-02 15:04 MST")
	}

	return h.reply(req, h.localizer.Get(req.lang, i18n.MsgStats, map[string]interface{}{
		"Total":    stats.TotalMessages,
		"LastSeen": lastSeen,
		"Commands": strings.TrimSpace(lines.String()),
	}))
}

func (h *Handler) handleLimits(req *request) error {
	limits := h.limiter.Limits()
	if len(limits) == 0 {
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgLimitsEmpty, nil))
	}

	var lines strings.Builder
	for _, c := range commandTable {
		if limit, ok := limits[c.Name]; ok {
			fmt.Fprintf(&lines, "/%s: %d / %s\n", c.Name, limit.Quota, formatWindow(limit.Window))
		}
	}
	return h.reply(req, h.localizer.Get(req.lang, i18n.MsgLimits, map[string]interface{}{
		"Limits": strings.TrimSpace(lines.String()),
	}))
}

func (h *Handler) handleLang(ctx context.Context, req *request) error {
	code := strings.ToLower(req.args)
	if !h.localizer.Supported(code) {
		return h.reply(req, h.localizer.Get(req.lang, i18n.MsgLanguageInvalid, map[string]interface{}{
			"Languages": strings.Join(h.localizer.Languages(), ", "),
		}))
	}

	settings := &models.UserSettings{UserID: req.userID(), Language: code}
	if err := h.storage.SaveUserSettings(ctx, req.userID(), settings); err != nil {
		h.replyError(req)
		return err
	}
	return h.reply(req, h.localizer.Get(code, i18n.MsgLanguageChanged, map[string]interface{}{
		"Language": code,
	}))
}
