package payments

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ferramas/ferramas-backend/internal/ledger"
	"github.com/ferramas/ferramas-backend/internal/ledger/ledgertest"
	"github.com/ferramas/ferramas-backend/internal/payments/guard"
	"github.com/ferramas/ferramas-backend/pkg/db"
	"github.com/ferramas/ferramas-backend/pkg/enums"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
	"github.com/ferramas/ferramas-backend/pkg/logger"
	"github.com/ferramas/ferramas-backend/pkg/pagination"
	"github.com/ferramas/ferramas-backend/pkg/webpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	productID int64 = 1
	branchID  int64 = 1
)

type fakeGateway struct {
	mu          sync.Mutex
	nextToken   string
	createErr   error
	commitCode  int
	commitErr   error
	status      *webpay.Transaction
	statusErr   error
	refundErr   error
	commitCalls int
	refundCalls int
	creates     []webpay.CreateRequest

	// commitEntered and commitRelease let a test hold a commit in flight.
	commitEntered chan struct{}
	commitRelease chan struct{}
}

func (g *fakeGateway) Create(_ context.Context, req webpay.CreateRequest) (*webpay.CreateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.creates = append(g.creates, req)
	return &webpay.CreateResponse{Token: g.nextToken, URL: "https://webpay.test/init"}, nil
}

func (g *fakeGateway) Commit(_ context.Context, token string) (*webpay.Transaction, error) {
	g.mu.Lock()
	g.commitCalls++
	entered, release := g.commitEntered, g.commitRelease
	code, err := g.commitCode, g.commitErr
	g.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}
	if err != nil {
		return nil, err
	}
	txn := &webpay.Transaction{ResponseCode: &code, Status: webpay.StatusAuthorized}
	if code == webpay.ResponseCodeApproved {
		txn.AuthorizationCode = "1213"
	} else {
		txn.Status = webpay.StatusFailed
	}
	return txn, nil
}

func (g *fakeGateway) Status(context.Context, string) (*webpay.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.statusErr
}

func (g *fakeGateway) Refund(_ context.Context, _ string, amount int64) (*webpay.RefundResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &webpay.RefundResponse{Type: "REVERSED", NullifiedAmount: amount}, nil
}

func (g *fakeGateway) commits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitCalls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Publish(event, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, event+":"+message)
}

func (n *recordingNotifier) published() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type harness struct {
	conn     *gorm.DB
	svc      Service
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func newHarness(t *testing.T, stock int) *harness {
	t.Helper()
	conn := ledgertest.Open(t)
	if stock >= 0 {
		ledgertest.SeedStock(t, conn, productID, branchID, stock, "4990.00")
	}
	h := &harness{conn: conn, gateway: &fakeGateway{nextToken: "tok-1"}, notifier: &recordingNotifier{}}
	h.svc = h.newService(t, guard.NewLocal())
	return h
}

// newService builds another instance over the same database, as a second replica would be.
func (h *harness) newService(t *testing.T, g guard.Guard) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Ledger:    ledger.NewRepository(h.conn),
		Tx:        db.Wrap(h.conn),
		Gateway:   h.gateway,
		Guard:     g,
		Notifier:  h.notifier,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
		ReturnURL: "http://localhost:5173/pago-finalizado",
	})
	require.NoError(t, err)
	return svc
}

func (h *harness) initiate(t *testing.T, buyOrder string, amount int64, quantity int) string {
	t.Helper()
	res, err := h.svc.Initiate(context.Background(), InitiateInput{
		BuyOrder:  buyOrder,
		SessionID: "S-" + buyOrder,
		Amount:    amount,
		ProductID: productID,
		BranchID:  branchID,
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return res.Token
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) *pkgerrors.Error {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), "unexpected error: %v", err)
	return typed
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.EqualError(t, err, "ledger repository required")
}

func TestConfirmSuccessDecrementsStock(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)

	res, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "O1", res.BuyOrder)
	assert.Equal(t, int64(10000), res.Amount)
	assert.Equal(t, 0, res.ResponseCode)
	assert.Equal(t, "1213", res.AuthorizationCode)
	assert.True(t, res.Approved)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, 3, ledgertest.StockQuantity(t, h.conn, productID, branchID))

	intent := ledgertest.Intent(t, h.conn, token)
	assert.Equal(t, enums.IntentStateSettledSuccess, intent.State)
	require.NotNil(t, intent.SettledAt)
	assert.Empty(t, h.notifier.published())
}

func TestConfirmTwiceReturnsSameOutcomeAndDecrementsOnce(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	ctx := context.Background()

	first, err := h.svc.Confirm(ctx, token)
	require.NoError(t, err)
	second, err := h.svc.Confirm(ctx, token)
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.BuyOrder, second.BuyOrder)
	assert.Equal(t, first.Amount, second.Amount)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.ResponseCode, second.ResponseCode)
	assert.Equal(t, first.AuthorizationCode, second.AuthorizationCode)
	assert.Equal(t, 3, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	assert.Equal(t, 1, h.gateway.commits())
}

func TestConcurrentConfirmHitsGuard(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	h.gateway.commitEntered = make(chan struct{})
	h.gateway.commitRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Confirm(context.Background(), token)
		done <- err
	}()
	<-h.gateway.commitEntered

	_, err := h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeAlreadyInProgress)

	close(h.gateway.commitRelease)
	require.NoError(t, <-done)
	assert.Equal(t, 3, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	assert.Equal(t, 1, h.gateway.commits())
}

func TestConcurrentConfirmAcrossInstancesSettlesOnce(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	replica := h.newService(t, guard.NewLocal())
	h.gateway.commitEntered = make(chan struct{})
	h.gateway.commitRelease = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.svc.Confirm(context.Background(), token)
		first <- err
	}()
	<-h.gateway.commitEntered

	second := make(chan *SettlementResult, 1)
	go func() {
		res, err := replica.Confirm(context.Background(), token)
		assert.NoError(t, err)
		second <- res
	}()
	time.Sleep(50 * time.Millisecond)
	close(h.gateway.commitRelease)

	require.NoError(t, <-first)
	res := <-second
	require.NotNil(t, res)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, enums.IntentStateSettledSuccess, res.State)
	assert.Equal(t, 3, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	assert.Equal(t, 1, h.gateway.commits())
}

func TestConfirmInsufficientStockMovesToNeedsRefund(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	ledgertest.SetStock(t, h.conn, productID, branchID, 1)

	_, err := h.svc.Confirm(context.Background(), token)
	typed := requireCode(t, err, pkgerrors.CodeInsufficientStockPostPay)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, details["requires_reconciliation"])
	assert.Equal(t, 1, details["available"])

	assert.Equal(t, 1, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	intent := ledgertest.Intent(t, h.conn, token)
	assert.Equal(t, enums.IntentStateSettledNeedsRefund, intent.State)
	require.NotNil(t, intent.FailureReason)
	assert.Equal(t, reasonInsufficientStock, *intent.FailureReason)

	_, err = h.svc.Confirm(context.Background(), token)
	typed = requireCode(t, err, pkgerrors.CodeInsufficientStockPostPay)
	assert.Equal(t, true, typed.Details().(map[string]any)["already_processed"])
	assert.Equal(t, 1, h.gateway.commits())
	assert.Equal(t, 1, ledgertest.StockQuantity(t, h.conn, productID, branchID))
}

func TestConfirmMissingStockRowMovesToNeedsRefund(t *testing.T) {
	h := newHarness(t, -1)
	token := h.initiate(t, "O1", 10000, 2)

	_, err := h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeStockRecordMissing)
	assert.Equal(t, enums.IntentStateSettledNeedsRefund, ledgertest.Intent(t, h.conn, token).State)

	_, err = h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeStockRecordMissing)
}

func TestConfirmRejectedLeavesStock(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	h.gateway.commitCode = webpay.ResponseCodeAborted

	res, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, -1, res.ResponseCode)
	assert.Equal(t, reasonAbortedByClient, res.Reason)
	assert.Equal(t, enums.IntentStateSettledRejected, res.State)
	assert.Equal(t, 5, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	assert.Equal(t, enums.IntentStateSettledRejected, ledgertest.Intent(t, h.conn, token).State)

	replay, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, replay.AlreadyProcessed)
	assert.Equal(t, reasonAbortedByClient, replay.Reason)
	assert.Equal(t, -1, replay.ResponseCode)
}

func TestConfirmIssuerRejectionReason(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	h.gateway.commitCode = -3

	res, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, reasonRejectedByIssuer, res.Reason)
	assert.Equal(t, -3, res.ResponseCode)
}

func TestConfirmPublishesLowStockOnceWhenStockHitsZero(t *testing.T) {
	h := newHarness(t, 2)
	token := h.initiate(t, "O1", 10000, 2)

	_, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	_, err = h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, 0, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	assert.Equal(t, []string{"low_stock:Stock bajo de Taladro percutor en Sucursal Centro"}, h.notifier.published())
}

func TestConfirmUnknownToken(t *testing.T) {
	h := newHarness(t, 5)

	_, err := h.svc.Confirm(context.Background(), "missing")
	requireCode(t, err, pkgerrors.CodeIntentNotFound)
	assert.Equal(t, 0, h.gateway.commits())

	_, err = h.svc.Confirm(context.Background(), "  ")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestConfirmGatewayFailureRollsBack(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	h.gateway.commitErr = errors.New("connection reset")

	_, err := h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeInternalSettlement)
	assert.Equal(t, enums.IntentStatePending, ledgertest.Intent(t, h.conn, token).State)
	assert.Equal(t, 5, ledgertest.StockQuantity(t, h.conn, productID, branchID))

	h.gateway.commitErr = nil
	res, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, res.Approved)
}

func TestConfirmLockedAtGateway(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	h.gateway.commitErr = &webpay.APIError{StatusCode: 422, Message: "Transaction already locked by another process"}

	_, err := h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeConfirmationConflict)

	require.NoError(t, h.conn.Exec("UPDATE payment_intents SET state = ?, response_code = 0 WHERE token = ?", enums.IntentStateSettledSuccess, token).Error)
	res, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.True(t, res.Approved)
}

func TestInitiateUpsertsByBuyOrder(t *testing.T) {
	h := newHarness(t, 5)
	h.initiate(t, "O1", 10000, 2)
	h.gateway.nextToken = "tok-2"
	token := h.initiate(t, "O1", 12000, 2)

	assert.Equal(t, int64(1), ledgertest.CountIntents(t, h.conn, "O1"))
	intent := ledgertest.Intent(t, h.conn, token)
	assert.Equal(t, int64(12000), intent.Amount)
	assert.Equal(t, enums.IntentStatePending, intent.State)
	require.Len(t, h.gateway.creates, 2)
	assert.Equal(t, "http://localhost:5173/pago-finalizado", h.gateway.creates[1].ReturnURL)
}

func TestInitiateRefusesSettledBuyOrder(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	_, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)

	h.gateway.nextToken = "tok-2"
	_, err = h.svc.Initiate(context.Background(), InitiateInput{BuyOrder: "O1", SessionID: "S", Amount: 1, ProductID: productID, BranchID: branchID, Quantity: 1})
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestInitiateValidatesAndSurfacesGatewayFailure(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	_, err := h.svc.Initiate(ctx, InitiateInput{BuyOrder: "O1", SessionID: "S", Amount: 0, ProductID: 1, BranchID: 1, Quantity: 1})
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = h.svc.Initiate(ctx, InitiateInput{BuyOrder: "O-123456789012345678901234567", SessionID: "S", Amount: 1, ProductID: 1, BranchID: 1, Quantity: 1})
	requireCode(t, err, pkgerrors.CodeValidation)

	h.gateway.createErr = errors.New("dial tcp: timeout")
	_, err = h.svc.Initiate(ctx, InitiateInput{BuyOrder: "O1", SessionID: "S", Amount: 100, ProductID: 1, BranchID: 1, Quantity: 1})
	typed := requireCode(t, err, pkgerrors.CodeGatewayUnavailable)
	assert.True(t, pkgerrors.MetadataFor(typed.Code()).Retryable)
	assert.Equal(t, int64(0), ledgertest.CountIntents(t, h.conn, "O1"))
}

func TestReconcileSettlesFromGatewayStatus(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	approved := webpay.ResponseCodeApproved
	h.gateway.status = &webpay.Transaction{Status: webpay.StatusAuthorized, ResponseCode: &approved, AuthorizationCode: "77"}

	res, err := h.svc.Reconcile(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "77", res.AuthorizationCode)
	assert.Equal(t, 3, ledgertest.StockQuantity(t, h.conn, productID, branchID))
	assert.Equal(t, 0, h.gateway.commits())
}

func TestReconcileLeavesInitializedPending(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	h.gateway.status = &webpay.Transaction{Status: webpay.StatusInitialized}

	_, err := h.svc.Reconcile(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeConfirmationConflict)
	assert.Equal(t, enums.IntentStatePending, ledgertest.Intent(t, h.conn, token).State)
}

func TestReconcileTreatsReversedAsRejected(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)
	approved := webpay.ResponseCodeApproved
	h.gateway.status = &webpay.Transaction{Status: webpay.StatusReversed, ResponseCode: &approved}

	res, err := h.svc.Reconcile(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStateSettledRejected, res.State)
	assert.Equal(t, reasonReversedAtGateway, res.Reason)
	assert.Equal(t, 5, ledgertest.StockQuantity(t, h.conn, productID, branchID))
}

func TestRefundNeedsRefundIntent(t *testing.T) {
	h := newHarness(t, 1)
	token := h.initiate(t, "O1", 10000, 2)
	_, err := h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeInsufficientStockPostPay)

	page, err := h.svc.ListNeedingRefund(context.Background(), pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Intents, 1)
	assert.Equal(t, token, page.Intents[0].Token)

	res, err := h.svc.Refund(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStateRefunded, res.State)
	assert.Equal(t, enums.IntentStateRefunded, ledgertest.Intent(t, h.conn, token).State)

	_, err = h.svc.Refund(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeStateConflict)
	assert.Equal(t, 1, h.gateway.refundCalls)

	replay, err := h.svc.Confirm(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, reasonRefunded, replay.Reason)
	assert.False(t, replay.Approved)

	page, err = h.svc.ListNeedingRefund(context.Background(), pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, page.Intents)
}

func TestRefundGatewayFailureKeepsQueue(t *testing.T) {
	h := newHarness(t, -1)
	token := h.initiate(t, "O1", 10000, 2)
	_, err := h.svc.Confirm(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeStockRecordMissing)

	h.gateway.refundErr = errors.New("gateway down")
	_, err = h.svc.Refund(context.Background(), token)
	requireCode(t, err, pkgerrors.CodeGatewayUnavailable)
	assert.Equal(t, enums.IntentStateSettledNeedsRefund, ledgertest.Intent(t, h.conn, token).State)
}

func TestStatusReadsIntent(t *testing.T) {
	h := newHarness(t, 5)
	token := h.initiate(t, "O1", 10000, 2)

	view, err := h.svc.Status(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, enums.IntentStatePending, view.State)
	assert.Equal(t, "O1", view.BuyOrder)

	_, err = h.svc.Status(context.Background(), "nope")
	requireCode(t, err, pkgerrors.CodeIntentNotFound)
}

func TestListNeedingRefundRejectsBadCursor(t *testing.T) {
	h := newHarness(t, 5)
	_, err := h.svc.ListNeedingRefund(context.Background(), pagination.Params{Cursor: "!!"})
	requireCode(t, err, pkgerrors.CodeValidation)
}
