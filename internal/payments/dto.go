package payments

import (
	"time"

	"github.com/ferramas/ferramas-backend/pkg/db/models"
	"github.com/ferramas/ferramas-backend/pkg/enums"
)

// InitiateInput is the data needed to open a Webpay transaction for one purchase.
type InitiateInput struct {
	BuyOrder  string
	SessionID string
	Amount    int64
	ProductID int64
	BranchID  int64
	Quantity  int
}

// InitiateResult carries the gateway token and the form URL the browser posts it to.
type InitiateResult struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// SettlementResult is the outcome of confirming, reconciling or refunding an intent.
// On the wire authorization_code carries the gateway's numeric verdict (0 approved)
// and gateway_authorization_code the issuer's authorization string.
type SettlementResult struct {
	Token             string            `json:"token"`
	BuyOrder          string            `json:"buy_order"`
	Amount            int64             `json:"amount"`
	State             enums.IntentState `json:"state"`
	Approved          bool              `json:"approved"`
	ResponseCode      int               `json:"authorization_code"`
	AuthorizationCode string            `json:"gateway_authorization_code,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	AlreadyProcessed  bool              `json:"already_processed"`
}

// IntentView is the read model returned to polling clients and the admin queue.
type IntentView struct {
	Token             string            `json:"token"`
	BuyOrder          string            `json:"buy_order"`
	SessionID         string            `json:"session_id"`
	Amount            int64             `json:"amount"`
	ProductID         int64             `json:"product_id"`
	BranchID          int64             `json:"branch_id"`
	Quantity          int               `json:"quantity"`
	State             enums.IntentState `json:"state"`
	AuthorizationCode *string           `json:"gateway_authorization_code,omitempty"`
	ResponseCode      *int              `json:"authorization_code,omitempty"`
	FailureReason     *string           `json:"failure_reason,omitempty"`
	SettledAt         *time.Time        `json:"settled_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// IntentPage is one page of the admin refund queue.
type IntentPage struct {
	Intents    []IntentView `json:"intents"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func viewFromModel(intent *models.PaymentIntent) IntentView {
	return IntentView{
		Token:             intent.Token,
		BuyOrder:          intent.BuyOrder,
		SessionID:         intent.SessionID,
		Amount:            intent.Amount,
		ProductID:         intent.ProductID,
		BranchID:          intent.BranchID,
		Quantity:          intent.Quantity,
		State:             intent.State,
		AuthorizationCode: intent.AuthorizationCode,
		ResponseCode:      intent.ResponseCode,
		FailureReason:     intent.FailureReason,
		SettledAt:         intent.SettledAt,
		CreatedAt:         intent.CreatedAt,
	}
}
