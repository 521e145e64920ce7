package middleware

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// MaxMessageLength is Telegram's limit for one text message, in UTF-16 code units.
const MaxMessageLength = 4096

// MaxPromptLength bounds what a user may send to a provider in one command.
const MaxPromptLength = 4000

// SecurityMiddleware provides input and output checks
type SecurityMiddleware struct {
	logger *logrus.Logger
}

// NewSecurityMiddleware creates security middleware
func NewSecurityMiddleware(logger *logrus.Logger) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger: logger,
	}
}

// ValidateInput rejects prompts that are empty, too long or not valid UTF-8.
func (s *SecurityMiddleware) ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty prompt")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("prompt is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > MaxPromptLength {
		return fmt.Errorf("prompt too long: %d characters", n)
	}
	return nil
}

// TextLength counts text the way Telegram does, in UTF-16 code units.
func TextLength(text string) int {
	n := 0
	for _, r := range text {
		n += utf16Len(r)
	}
	return n
}

func utf16Len(r rune) int {
	if r1, _ := utf16.EncodeRune(r); r1 != utf8.RuneError {
		return 2
	}
	return 1
}

// SanitizeOutput truncates text to limit UTF-16 code units, marking the cut.
func (s *SecurityMiddleware) SanitizeOutput(text string, limit int) string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	text = strings.ToValidUTF8(text, "")
	if TextLength(text) <= limit {
		return text
	}

	const ellipsis = "…"
	budget := limit - TextLength(ellipsis)
	used, cut := 0, 0
	for i, r := range text {
		w := utf16Len(r)
		if used+w > budget {
			cut = i
			break
		}
		used += w
	}
	s.logger.WithField("length", TextLength(text)).Debug("Truncating output to message limit")
	return text[:cut] + ellipsis
}
