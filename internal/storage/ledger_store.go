// Package storage holds what the ledger store implementations share.
package storage

import (
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

const (
	// MaxQueueBatch caps a single pending-entry listing.
	MaxQueueBatch = 1000
)

// ClampLimit bounds a caller supplied batch size to (0, MaxQueueBatch].
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueueBatch {
		return MaxQueueBatch
	}
	return limit
}

// CloneLine deep copies the mutable parts of a line.
func CloneLine(l models.LedgerLine) models.LedgerLine {
	if l.Info != nil {
		info := make(map[string]any, len(l.Info))
		for k, v := range l.Info {
			info[k] = v
		}
		l.Info = info
	}
	return l
}

// CloneStatement deep copies a statement and its lines.
func CloneStatement(s models.Statement) models.Statement {
	lines := make([]models.LedgerLine, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = CloneLine(l)
	}
	s.Lines = lines
	return s
}
