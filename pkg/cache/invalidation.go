// Package cache carries post-commit invalidation signals from write paths to
// whatever caches derived views (dashboards, lists, totals).
package cache

import (
	"context"
	"log/slog"
	"sync"
)

// Tag names a family of cached views.
type Tag string

const (
	TagTransactions Tag = "transactions"
	TagIncome       Tag = "income"
	TagImports      Tag = "imports"
	TagDuplicates   Tag = "duplicates"
	TagPortfolio    Tag = "portfolio"
	TagDashboard    Tag = "dashboard"
)

// Invalidator receives tags whose views are stale. Writers call it only
// after their transaction committed.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...Tag)
}

// LogInvalidator records invalidations in the log. It is the default when no
// cache is deployed in front of the API.
type LogInvalidator struct {
	logger *slog.Logger
}

func NewLogInvalidator(logger *slog.Logger) *LogInvalidator {
	return &LogInvalidator{logger: logger}
}

func (l *LogInvalidator) Invalidate(ctx context.Context, tags ...Tag) {
	l.logger.DebugContext(ctx, "cache invalidated", slog.Any("tags", tags))
}

// Recorder keeps every signalled tag in order. Useful in tests.
type Recorder struct {
	mu   sync.Mutex
	tags []Tag
}

func (r *Recorder) Invalidate(_ context.Context, tags ...Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tags...)
}

// Tags returns a copy of the recorded tags.
func (r *Recorder) Tags() []Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Tag(nil), r.tags...)
}

// Reset forgets recorded tags.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = nil
}
