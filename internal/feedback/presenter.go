package feedback

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"qrattend/internal/attendance"
)

// Level of a user-facing message.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// LevelFor picks the level of a scan error. Duplicates are informational and
// bad input is a warning; anything else is an error.
func LevelFor(err error) Level {
	switch {
	case err == nil:
		return LevelSuccess
	case errors.Is(err, attendance.ErrDuplicate):
		return LevelInfo
	case attendance.IsValidation(err):
		return LevelWarning
	}
	return LevelError
}

// Entry is one message shown to the operator.
type Entry struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Presenter collects operator messages, dropping repeats inside the window.
type Presenter struct {
	window Window
	limit  int

	mu      sync.Mutex
	entries []Entry
}

// NewPresenter keeps the last limit entries.
func NewPresenter(window Window, limit int) *Presenter {
	if limit <= 0 {
		limit = 50
	}
	return &Presenter{window: window, limit: limit}
}

// Show records text unless the same text was shown recently. It reports
// whether the message was recorded.
func (p *Presenter) Show(ctx context.Context, level Level, text string) bool {
	if p.window != nil && !p.window.Allow(ctx, text) {
		return false
	}

	log.Printf("%s: %s", level, text)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, Entry{Level: level, Text: text, At: time.Now().UTC()})
	if over := len(p.entries) - p.limit; over > 0 {
		p.entries = append(p.entries[:0], p.entries[over:]...)
	}
	return true
}

// Recent returns entries newest first.
func (p *Presenter) Recent() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[len(p.entries)-1-i] = e
	}
	return out
}
