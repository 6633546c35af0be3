// Package audit keeps an append-only in-memory trail of dispatch decisions
// and lifecycle events, compacted periodically to bound memory.
package audit

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/example/transit-dispatch/internal/models"
)

const (
	// CompactThreshold is the size beyond which Compact trims the log.
	CompactThreshold = 5000
	// CompactKeep is how many recent entries survive a compaction.
	CompactKeep = 1000
)

type Log struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func NewLog() *Log { return &Log{} }

func (l *Log) Record(action, reason string, payload any) models.AuditEntry {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	e := models.AuditEntry{
		ID:      "a_" + hex.EncodeToString(b),
		Action:  action,
		Reason:  reason,
		Payload: payload,
		At:      time.Now(),
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return e
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Recent returns up to n newest entries, newest last.
func (l *Log) Recent(n int) []models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.AuditEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Compact drops everything but the most recent CompactKeep entries once the
// log grows past CompactThreshold. Returns the number dropped.
func (l *Log) Compact() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) <= CompactThreshold {
		return 0
	}
	dropped := len(l.entries) - CompactKeep
	kept := make([]models.AuditEntry, CompactKeep)
	copy(kept, l.entries[len(l.entries)-CompactKeep:])
	l.entries = kept
	return dropped
}
