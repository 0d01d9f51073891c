package worker

import (
	"context"
	"errors"
	"time"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/broker"
	"design-marketplace/internal/models"
	"design-marketplace/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const maxBackoff = 30 * time.Second

// LicenseGenerator renders the license of a recorded transaction
type LicenseGenerator interface {
	GenerateLicenseDocument(ctx context.Context, transactionID string) (string, error)
}

// LicenseWorker generates license documents for newly recorded transactions
type LicenseWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	generator    LicenseGenerator
	maxAttempts  int
	retryBase    time.Duration
	logger       *zap.Logger
}

// NewLicenseWorker creates a new license worker
func NewLicenseWorker(
	consumer *broker.Consumer,
	generator LicenseGenerator,
	maxAttempts int,
	retryBase time.Duration,
) *LicenseWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	w := &LicenseWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		generator:    generator,
		maxAttempts:  maxAttempts,
		retryBase:    retryBase,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnTransactionRecorded(w.HandleTransactionRecorded)
	return w
}

// Start starts the worker
func (w *LicenseWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting license worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LicenseWorker) Stop() error {
	w.logger.Info("Stopping license worker...")
	return w.consumer.Close()
}

// HandleTransactionRecorded generates the license, retrying transient failures with exponential backoff.
// Only a cancelled context is returned as an error, so the message stays uncommitted for redelivery;
// given-up messages are logged and picked up again by the LicenseSweeper.
func (w *LicenseWorker) HandleTransactionRecorded(ctx context.Context, event *models.TransactionRecordedEvent) error {
	ctx, span := util.StartSpan(ctx, "LicenseWorker.HandleTransactionRecorded")
	defer span.End()

	err := w.generate(ctx, event.TransactionID)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		util.RecordError(span, err)
	}
	return nil
}

// generate runs one license generation under the retry policy. AlreadyGenerated counts as done.
func (w *LicenseWorker) generate(ctx context.Context, transactionID string) error {
	log := w.logger.With(zap.String("transaction_id", transactionID))

	attempt := 0
	operation := func() error {
		attempt++
		url, err := w.generator.GenerateLicenseDocument(ctx, transactionID)
		switch {
		case err == nil:
			log.Info("License generated", zap.String("url", url), zap.Int("attempt", attempt))
			return nil
		case errors.Is(err, apperr.ErrAlreadyGenerated):
			log.Debug("License already generated")
			return nil
		case !apperr.Retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		log.Warn("License generation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(NewBackOff(w.retryBase), uint64(w.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case !apperr.Retryable(err):
		log.Error("License generation failed permanently", zap.Error(err))
	default:
		log.Error("License generation gave up", zap.Int("attempts", attempt), zap.Error(err))
	}
	return err
}

// NewBackOff waits base, 2*base, 4*base, ... between attempts, capped at 30s
func NewBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
