package telegram

import (
	"strconv"
	"sync"
	"time"
)

const (
	// album pages arrive as separate updates
	debounce  = 1200 * time.Millisecond
	maxPixels = 18_000_000
	maxPages  = 10
)

func sessionKey(chatID int64) string { return "tg:" + strconv.FormatInt(chatID, 10) }

type photoBatch struct {
	ChatID       int64
	MediaGroupID string

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}

// chatState is per-chat bot state outside the upload controller.
type chatState struct {
	engines sync.Map // chatID -> engine name chosen with /engine
	batches sync.Map // media group id -> *photoBatch
}

func (s *chatState) engine(chatID int64) string {
	if v, ok := s.engines.Load(chatID); ok {
		return v.(string)
	}
	return ""
}
