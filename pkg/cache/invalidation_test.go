package cache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Invalidate(context.Background(), TagTransactions, TagImports)
	r.Invalidate(context.Background(), TagDashboard)

	tags := r.Tags()
	assert.Equal(t, []Tag{TagTransactions, TagImports, TagDashboard}, tags)

	tags[0] = TagIncome
	assert.Equal(t, TagTransactions, r.Tags()[0])

	r.Reset()
	assert.Empty(t, r.Tags())
}

func TestLogInvalidator(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLogInvalidator(logger).Invalidate(context.Background(), TagPortfolio)
	assert.Contains(t, buf.String(), "cache invalidated")
	assert.Contains(t, buf.String(), "portfolio")
}
