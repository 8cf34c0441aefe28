package scraper_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// flakyStore fails the first n upserts.
type flakyStore struct {
	failures int
	calls    int
	saved    []scraper.RunResult
}

func (s *flakyStore) UpsertResult(_ context.Context, r scraper.RunResult) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("i/o timeout")
	}
	s.saved = append(s.saved, r)
	return nil
}

func (s *flakyStore) CountByStatus(context.Context) (map[scraper.Status]int, error) {
	return nil, nil
}

func TestLogRetriesTransientWriteFailure(t *testing.T) {
	store := &flakyStore{failures: 2}
	logger := scraper.NewResultLogger(store, noPause{}, scraper.ResultLogConfig{MaxAttempts: 3}, zap.NewNop())

	err := logger.Log(context.Background(), scraper.RunResult{Serial: 1, Status: scraper.StatusSuccess})
	require.NoError(t, err)
	require.Equal(t, 3, store.calls)
	require.Len(t, store.saved, 1)
}

func TestLogReturnsErrorAfterExhaustion(t *testing.T) {
	store := &flakyStore{failures: 10}
	logger := scraper.NewResultLogger(store, noPause{}, scraper.ResultLogConfig{MaxAttempts: 3}, zap.NewNop())

	err := logger.Log(context.Background(), scraper.RunResult{Serial: 1, Status: scraper.StatusFail})
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, store.calls)
}

func TestLogStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &flakyStore{failures: 10}
	logger := scraper.NewResultLogger(store, noPause{}, scraper.ResultLogConfig{MaxAttempts: 3}, zap.NewNop())

	err := logger.Log(ctx, scraper.RunResult{Serial: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.calls)
}

func TestLogTruncatesLongErrorMessages(t *testing.T) {
	store := &flakyStore{}
	logger := scraper.NewResultLogger(store, noPause{}, scraper.ResultLogConfig{}, zap.NewNop())

	err := logger.Log(context.Background(), scraper.RunResult{
		Serial:       1,
		Status:       scraper.StatusFail,
		ErrorMessage: strings.Repeat("x", 5000),
	})
	require.NoError(t, err)
	require.Len(t, store.saved[0].ErrorMessage, 1000)
}

func TestKindForError(t *testing.T) {
	require.Equal(t, scraper.KindTimeout, scraper.KindForError(context.DeadlineExceeded))
	require.Equal(t, scraper.KindStructureChanged, scraper.KindForError(errors.New("selector missing")))
	require.Equal(t, scraper.ErrorKind(""), scraper.KindForError(nil))
}

func TestSuccessRate(t *testing.T) {
	s := scraper.RunSummary{Attempted: 4, Succeeded: 3}
	require.InDelta(t, 75.0, s.SuccessRate(), 0.001)
	require.Zero(t, scraper.RunSummary{}.SuccessRate())
}

func TestOutcomeHelpers(t *testing.T) {
	ok := scraper.SuccessOutcome(12, 3)
	require.True(t, ok.OK())
	require.Equal(t, 12, ok.ProductsFound)

	bad := scraper.FailureOutcome(scraper.KindValidationFailed, "count mismatch")
	require.False(t, bad.OK())
	require.Equal(t, scraper.KindValidationFailed, bad.ErrKind)
}
