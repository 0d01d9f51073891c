package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (g *scriptedGenerator) GenerateLicenseDocument(_ context.Context, id string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "http://files/legal-docs/legal-" + id + ".html", nil
}

func recordedEvent() *models.TransactionRecordedEvent {
	return &models.TransactionRecordedEvent{
		BaseEvent:     models.BaseEvent{EventID: "e-1", EventType: models.EventTypeTransactionRecorded, Timestamp: time.Now()},
		TransactionID: "tx-1",
	}
}

func TestHandleTransactionRecordedRetriesTransientFailures(t *testing.T) {
	upstream := fmt.Errorf("%w: storage timeout", apperr.ErrUpstream)
	gen := &scriptedGenerator{errs: []error{upstream, upstream, nil}}
	w := NewLicenseWorker(nil, gen, 5, time.Millisecond)

	require.NoError(t, w.HandleTransactionRecorded(context.Background(), recordedEvent()))
	assert.Equal(t, 3, gen.calls)
}

func TestHandleTransactionRecordedGivesUp(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{
		errors.New("db down"), errors.New("db down"), errors.New("db down"), errors.New("db down"),
	}}
	w := NewLicenseWorker(nil, gen, 3, time.Millisecond)

	require.NoError(t, w.HandleTransactionRecorded(context.Background(), recordedEvent()))
	assert.Equal(t, 3, gen.calls)
}

func TestHandleTransactionRecordedPermanentErrors(t *testing.T) {
	for _, err := range []error{apperr.ErrNotFound, apperr.ErrAlreadyGenerated} {
		gen := &scriptedGenerator{errs: []error{err}}
		w := NewLicenseWorker(nil, gen, 5, time.Millisecond)

		require.NoError(t, w.HandleTransactionRecorded(context.Background(), recordedEvent()))
		assert.Equal(t, 1, gen.calls, err.Error())
	}
}

func TestHandleTransactionRecordedStopsOnCancel(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{apperr.ErrUpstream, apperr.ErrUpstream}}
	w := NewLicenseWorker(nil, gen, 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := w.HandleTransactionRecorded(ctx, recordedEvent())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gen.calls)
}

func TestWorkerRoutesKafkaMessages(t *testing.T) {
	gen := &scriptedGenerator{}
	w := NewLicenseWorker(nil, gen, 1, time.Millisecond)

	value, err := json.Marshal(recordedEvent())
	require.NoError(t, err)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), kafka.Message{Value: value}))
	assert.Equal(t, 1, gen.calls)
}

func TestBackOffDoublesUpToCap(t *testing.T) {
	b := NewBackOff(500 * time.Millisecond)

	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	for i := 0; i < 10; i++ {
		b.NextBackOff()
	}
	assert.Equal(t, 30*time.Second, b.NextBackOff())
}

type pendingList struct {
	ids    []string
	err    error
	before time.Time
}

func (p *pendingList) ListUnlicensedTransactions(_ context.Context, before time.Time, _ int) ([]string, error) {
	p.before = before
	return p.ids, p.err
}

func TestSweepGeneratesMissingLicenses(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{nil, apperr.ErrAlreadyGenerated, apperr.ErrNotFound}}
	pending := &pendingList{ids: []string{"tx-1", "tx-2", "tx-3"}}
	sweeper := NewLicenseSweeper(pending, NewLicenseWorker(nil, gen, 3, time.Millisecond), time.Minute)
	now := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	sweeper.now = func() time.Time { return now }

	done, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, now.Add(-sweepGrace), pending.before)
}

func TestSweepListFailure(t *testing.T) {
	gen := &scriptedGenerator{}
	sweeper := NewLicenseSweeper(&pendingList{err: errors.New("db down")}, NewLicenseWorker(nil, gen, 3, time.Millisecond), time.Minute)

	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, gen.calls)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	gen := &scriptedGenerator{}
	sweeper := NewLicenseSweeper(&pendingList{ids: []string{"tx-1"}}, NewLicenseWorker(nil, gen, 1, time.Millisecond), 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sweeper.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Positive(t, gen.calls)
}
