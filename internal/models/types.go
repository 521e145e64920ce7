package models

import (
	"time"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatContext is the conversation history kept for chat commands.
type ChatContext struct {
	ChatID       int64     `json:"chat_id"`
	Messages     []Message `json:"messages"`
	LastActivity time.Time `json:"last_activity"`
}

// UserSettings represents user-specific settings
type UserSettings struct {
	UserID   int64  `json:"user_id"`
	Language string `json:"language"`
}

// UserStats counts what a user asked the bot to do.
type UserStats struct {
	UserID        int64          `json:"user_id"`
	TotalMessages int            `json:"total_messages"`
	Commands      map[string]int `json:"commands"`
	LastSeen      time.Time      `json:"last_seen"`
}

// CacheEntry represents a cached response
type CacheEntry struct {
	Question  string
	Answer    string
	Model     string
	CreatedAt time.Time
}
