package processed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlemilk/inboxledger/backend/internal/mail"
)

type stubSource struct {
	ids     []string
	marked  []string
	markErr error
}

func (s *stubSource) ListUnprocessed(context.Context) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}

func (s *stubSource) Fetch(_ context.Context, id string) (*mail.Message, error) {
	return &mail.Message{ID: id}, nil
}

func (s *stubSource) MarkProcessed(_ context.Context, id string) error {
	s.marked = append(s.marked, id)
	return s.markErr
}

type failingTracker struct{}

func (failingTracker) IsProcessed(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingTracker) MarkProcessed(context.Context, string) error { return errors.New("redis down") }

func TestSource_FiltersProcessed(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{ids: []string{"1", "2", "3"}}
	tracker := NewMemoryTracker()
	require.NoError(t, tracker.MarkProcessed(ctx, "2"))

	wrapped := Wrap(src, tracker)
	ids, err := wrapped.ListUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids)

	require.NoError(t, wrapped.MarkProcessed(ctx, "1"))
	assert.Equal(t, []string{"1"}, src.marked)

	ids, err = wrapped.ListUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids)

	msg, err := wrapped.Fetch(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "3", msg.ID)
}

func TestSource_SourceMarkFailureStillTracked(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{ids: []string{"1"}, markErr: mail.ErrUnavailable}
	tracker := NewMemoryTracker()
	wrapped := Wrap(src, tracker)

	err := wrapped.MarkProcessed(ctx, "1")
	assert.ErrorIs(t, err, mail.ErrUnavailable)

	ids, err := wrapped.ListUnprocessed(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSource_TrackerFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{ids: []string{"1", "2"}}
	wrapped := Wrap(src, failingTracker{})

	ids, err := wrapped.ListUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	require.NoError(t, wrapped.MarkProcessed(ctx, "1"))
	assert.Equal(t, []string{"1"}, src.marked)
}

func TestRedisTracker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()

	tracker, err := NewRedisTrackerFromURL(ctx, url, time.Minute)
	require.NoError(t, err)
	defer tracker.Close()

	id := "test-" + uuid.New().String()
	seen, err := tracker.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, tracker.MarkProcessed(ctx, id))
	seen, err = tracker.IsProcessed(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}
