// ABOUTME: Tests for pending order id issuance
// ABOUTME: Ids must keep increasing across clock steps, same-millisecond calls, and reopens
package db

import (
	"bytes"
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNextULID(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	last, err := ulid.New(ulid.Timestamp(base), rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
	}{
		{"later clock", base.Add(time.Second)},
		{"same millisecond", base},
		{"clock stepped back", base.Add(-time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := nextULID(last, tt.now, rand.Reader)
			require.NoError(t, err)
			assert.Equal(t, 1, next.Compare(last))
			assert.GreaterOrEqual(t, next.Time(), last.Time())
		})
	}

	// Exhausted entropy moves to the next millisecond.
	var full ulid.ULID
	require.NoError(t, full.SetTime(ulid.Timestamp(base)))
	require.NoError(t, full.SetEntropy(bytes.Repeat([]byte{0xff}, 10)))
	next, err := nextULID(full, base, rand.Reader)
	require.NoError(t, err)
	assert.Equal(t, full.Time()+1, next.Time())
}

func TestNextOrderIDSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	first, err := s.NextOrderID(ctx, now)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	second, err := reopened.NextOrderID(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Less(t, first, second)

	third, err := reopened.NextOrderID(ctx, now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Less(t, second, third)
}

func TestNextOrderIDCancelledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.NextOrderID(ctx, time.Now())
	assert.Error(t, err)
}
