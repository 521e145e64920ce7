package middleware

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ChatLocks serializes conversation updates per chat so concurrent
// commands in one chat do not overwrite each other's turns.
type ChatLocks struct {
	mu    sync.Mutex
	locks map[int64]*chatLock
}

type chatLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewChatLocks() *ChatLocks {
	return &ChatLocks{locks: make(map[int64]*chatLock)}
}

// Acquire blocks until chatID is free or ctx is done. The returned func
// releases the chat and must be called exactly once.
func (l *ChatLocks) Acquire(ctx context.Context, chatID int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[chatID]
	if !ok {
		entry = &chatLock{sem: semaphore.NewWeighted(1)}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.drop(chatID, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.drop(chatID, entry)
		})
	}, nil
}

// drop forgets the entry once nobody holds or waits for it.
func (l *ChatLocks) drop(chatID int64, entry *chatLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, chatID)
	}
}

// Len returns the number of chats currently held or awaited.
func (l *ChatLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
