package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferramas/ferramas-backend/internal/payments"
	"github.com/ferramas/ferramas-backend/pkg/db/models"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type stubLister struct {
	intents []models.PaymentIntent
	cutoff  time.Time
	limit   int
	pages   int
}

func (s *stubLister) ListPendingBefore(_ context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.PaymentIntent, error) {
	s.cutoff = cutoff
	s.limit = limit
	s.pages++

	start := 0
	if after != nil {
		for i, intent := range s.intents {
			if intent.ID == after.ID {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(s.intents) {
		end = len(s.intents)
	}
	return s.intents[start:end], nil
}

func pendingIntents(tokens ...string) []models.PaymentIntent {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	intents := make([]models.PaymentIntent, len(tokens))
	for i, token := range tokens {
		intents[i] = models.PaymentIntent{ID: uuid.New(), Token: token, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	return intents
}

type stubReconciler struct {
	errs  map[string]error
	calls []string
}

func (s *stubReconciler) Reconcile(_ context.Context, token string) (*payments.SettlementResult, error) {
	s.calls = append(s.calls, token)
	if err := s.errs[token]; err != nil {
		return nil, err
	}
	return &payments.SettlementResult{Token: token, State: enums.IntentStateSettledSuccess}, nil
}

func TestReconcileJobAggregatesOnlyUnexpectedFailures(t *testing.T) {
	lister := &stubLister{intents: pendingIntents("ok", "open", "unfilled", "bad-1", "bad-2")}
	rec := &stubReconciler{errs: map[string]error{
		"open":     pkgerrors.New(pkgerrors.CodeConfirmationConflict, "still initialized"),
		"unfilled": pkgerrors.New(pkgerrors.CodeInsufficientStockPostPay, "no stock"),
		"bad-1":    pkgerrors.New(pkgerrors.CodeInternalSettlement, "gateway down"),
		"bad-2":    errors.New("boom"),
	}}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:       testLogger(),
		Intents:      lister,
		Payments:     rec,
		PendingAfter: 10 * time.Minute,
		BatchSize:    20,
	})
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	job.(*reconcileJob).now = func() time.Time { return now }

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, []string{"ok", "open", "unfilled", "bad-1", "bad-2"}, rec.calls)
	assert.Equal(t, now.Add(-10*time.Minute), lister.cutoff)
	assert.Equal(t, 20, lister.limit)
	assert.Equal(t, "payment-reconcile", job.Name())
}

func TestReconcileJobNoCandidates(t *testing.T) {
	job, err := NewReconcileJob(ReconcileJobParams{Logger: testLogger(), Intents: &stubLister{}, Payments: &stubReconciler{}})
	require.NoError(t, err)
	assert.NoError(t, job.Run(context.Background()))
}

func TestReconcileJobPagesPastIntentsThatStayOpen(t *testing.T) {
	lister := &stubLister{intents: pendingIntents("tok-0", "tok-1", "tok-2", "tok-3")}
	stillOpen := pkgerrors.New(pkgerrors.CodeConfirmationConflict, "still initialized")
	rec := &stubReconciler{errs: map[string]error{"tok-0": stillOpen, "tok-1": stillOpen, "tok-2": stillOpen}}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:    testLogger(),
		Intents:   lister,
		Payments:  rec,
		BatchSize: 3,
	})
	require.NoError(t, err)

	for pass := 0; pass < 2; pass++ {
		require.NoError(t, job.Run(context.Background()))
	}

	assert.Equal(t, []string{"tok-0", "tok-1", "tok-2", "tok-3", "tok-0", "tok-1", "tok-2", "tok-3"}, rec.calls)
	assert.Equal(t, 4, lister.pages)
}

func TestReconcileJobStopsWhenContextCancelled(t *testing.T) {
	lister := &stubLister{intents: pendingIntents("tok-0")}
	job, err := NewReconcileJob(ReconcileJobParams{Logger: testLogger(), Intents: lister, Payments: &stubReconciler{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Zero(t, lister.pages)
}
