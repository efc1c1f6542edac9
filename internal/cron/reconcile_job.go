package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ferramas/ferramas-backend/internal/payments"
	"github.com/ferramas/ferramas-backend/pkg/db/models"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/ferramas/ferramas-backend/pkg/pagination"
	"go.uber.org/multierr"
)

const (
	defaultPendingAfter = 10 * time.Minute
	defaultBatchSize    = 50
)

type pendingIntentLister interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.PaymentIntent, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, token string) (*payments.SettlementResult, error)
}

type ReconcileJobParams struct {
	Logger       *logger.Logger
	Intents      pendingIntentLister
	Payments     reconciler
	PendingAfter time.Duration
	BatchSize    int
}

// NewReconcileJob builds the job that settles intents stuck in pending after a crash or an abandoned checkout.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent lister required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	pendingAfter := params.PendingAfter
	if pendingAfter <= 0 {
		pendingAfter = defaultPendingAfter
	}
	batch := defaultBatchSize
	if params.BatchSize > 0 {
		batch = pagination.NormalizeLimit(params.BatchSize)
	}
	return &reconcileJob{
		logg:         params.Logger,
		intents:      params.Intents,
		payments:     params.Payments,
		pendingAfter: pendingAfter,
		batch:        batch,
		now:          time.Now,
	}, nil
}

type reconcileJob struct {
	logg         *logger.Logger
	intents      pendingIntentLister
	payments     reconciler
	pendingAfter time.Duration
	batch        int
	now          func() time.Time
}

func (j *reconcileJob) Name() string { return "payment-reconcile" }

// Run walks every pending intent older than the cutoff in batches, so intents that stay open do not hide newer ones.
func (j *reconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.pendingAfter)

	var (
		errs       error
		after      *pagination.Cursor
		candidates int
		settled    int
		waiting    int
		unfilled   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		intents, err := j.intents.ListPendingBefore(ctx, cutoff, after, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list pending intents: %w", err))
		}
		candidates += len(intents)

		for _, intent := range intents {
			intentCtx := j.logg.WithFields(ctx, map[string]any{"token": intent.Token, "buy_order": intent.BuyOrder})
			res, err := j.payments.Reconcile(intentCtx, intent.Token)
			switch {
			case err == nil:
				settled++
				j.logg.Info(j.logg.WithField(intentCtx, "state", res.State.String()), "pending intent reconciled")
			case pkgerrors.IsCode(err, pkgerrors.CodeConfirmationConflict), pkgerrors.IsCode(err, pkgerrors.CodeAlreadyInProgress):
				waiting++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStockPostPay), pkgerrors.IsCode(err, pkgerrors.CodeStockRecordMissing):
				// settled as needs-refund; the admin queue takes it from here
				unfilled++
			default:
				errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", intent.Token, err))
			}
		}

		if len(intents) < j.batch {
			break
		}
		last := intents[len(intents)-1]
		after = pagination.CursorAt(last.CreatedAt, last.ID)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates":   candidates,
		"settled":      settled,
		"still_open":   waiting,
		"needs_refund": unfilled,
		"failed":       len(multierr.Errors(errs)),
	}), "reconcile pass finished")
	return errs
}
