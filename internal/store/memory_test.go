package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addRecord(t *testing.T, s *InMemoryInteractionStore, userID string, quality float64, ts time.Time) *InteractionRecord {
	t.Helper()
	rec, err := NewInteractionRecord(userID, "hello there", "hi", quality)
	require.NoError(t, err)
	rec.Timestamp = ts
	require.NoError(t, s.Add(context.Background(), rec))
	return rec
}

func TestNewInteractionRecord_Validation(t *testing.T) {
	_, err := NewInteractionRecord("u1", "", "hi", 0.5)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = NewInteractionRecord("u1", "hello", "hi", 1.5)
	assert.ErrorIs(t, err, ErrInvalidQuality)

	rec, err := NewInteractionRecord("u1", "hello", "hi", 0.5)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InteractionRecord)
		wantErr error
	}{
		{"missing id", func(r *InteractionRecord) { r.ID = "" }, ErrInvalidRecord},
		{"empty input", func(r *InteractionRecord) { r.Input = "" }, ErrEmptyInput},
		{"quality too high", func(r *InteractionRecord) { r.Quality = 1.1 }, ErrInvalidQuality},
		{"quality negative", func(r *InteractionRecord) { r.Quality = -0.1 }, ErrInvalidQuality},
		{"satisfaction out of range", func(r *InteractionRecord) { r.Satisfaction = 2 }, ErrInvalidRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewInteractionRecord("u1", "hello", "hi", 0.5)
			require.NoError(t, err)
			tt.mutate(rec)
			assert.ErrorIs(t, rec.Validate(), tt.wantErr)
		})
	}
}

func TestAddAndGet(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()

	rec := addRecord(t, s, "u1", 0.8, time.Now())

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, 0.8, got.Quality)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdd_RejectsInvalid(t *testing.T) {
	s := NewInMemoryInteractionStore()
	err := s.Add(context.Background(), &InteractionRecord{ID: "x", Input: ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestRecent_NewestFirst(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()

	first := addRecord(t, s, "u1", 0.5, time.Now().Add(-2*time.Minute))
	second := addRecord(t, s, "u1", 0.6, time.Now().Add(-time.Minute))
	third := addRecord(t, s, "u1", 0.7, time.Now())

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)

	// A limit larger than the store returns everything.
	all, err := s.Recent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[2].ID)
}

func TestSince(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()
	cutoff := time.Now()

	addRecord(t, s, "u1", 0.5, cutoff.Add(-time.Hour))
	onCutoff := addRecord(t, s, "u1", 0.6, cutoff)
	after := addRecord(t, s, "u1", 0.7, cutoff.Add(time.Minute))

	got, err := s.Since(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// The cutoff itself is included, oldest first.
	assert.Equal(t, onCutoff.ID, got[0].ID)
	assert.Equal(t, after.ID, got[1].ID)
}

func TestTopQuality(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()

	addRecord(t, s, "u1", 0.3, time.Now())
	best := addRecord(t, s, "u1", 0.9, time.Now())
	middle := addRecord(t, s, "u1", 0.6, time.Now())

	got, err := s.TopQuality(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, best.ID, got[0].ID)
	assert.Equal(t, middle.ID, got[1].ID)
}

func TestByUser(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()

	a1 := addRecord(t, s, "alice", 0.5, time.Now().Add(-time.Minute))
	addRecord(t, s, "bob", 0.5, time.Now())
	a2 := addRecord(t, s, "alice", 0.7, time.Now())

	got, err := s.ByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a1.ID, got[0].ID)
	assert.Equal(t, a2.ID, got[1].ID)

	empty, err := s.ByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCount(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	addRecord(t, s, "u1", 0.5, time.Now())
	addRecord(t, s, "u1", 0.5, time.Now())

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueries_ReturnCopies(t *testing.T) {
	s := NewInMemoryInteractionStore()
	ctx := context.Background()

	rec := addRecord(t, s, "u1", 0.5, time.Now())

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	got.Quality = 0.1

	again, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, again.Quality)
}
