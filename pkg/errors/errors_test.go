package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeGatewayUnavailable, status: http.StatusServiceUnavailable, publicMsg: "payment gateway unavailable", retryable: true},
		{code: CodePersistence, status: http.StatusInternalServerError, publicMsg: "payment could not be recorded", retryable: true},
		{code: CodeAlreadyInProgress, status: http.StatusConflict, publicMsg: "payment confirmation already in progress", retryable: true},
		{code: CodeIntentNotFound, status: http.StatusNotFound, publicMsg: "payment not found"},
		{code: CodeConfirmationConflict, status: http.StatusConflict, publicMsg: "payment is being confirmed by another process", retryable: true, detailsOK: true},
		{code: CodeStockRecordMissing, status: http.StatusInternalServerError, publicMsg: "product unavailable at branch after payment", detailsOK: true},
		{code: CodeInsufficientStockPostPay, status: http.StatusConflict, publicMsg: "insufficient stock after payment", detailsOK: true},
		{code: CodeInternalSettlement, status: http.StatusInternalServerError, publicMsg: "payment confirmation failed"},
		{code: CodePaymentRejected, status: http.StatusBadRequest, publicMsg: "payment rejected", detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	typed := New(CodeIntentNotFound, "missing")
	wrapped := fmt.Errorf("confirm: %w", typed)
	if !IsCode(wrapped, CodeIntentNotFound) {
		t.Fatalf("expected IsCode to find wrapped typed error")
	}
	if IsCode(wrapped, CodeConflict) {
		t.Fatalf("unexpected match for different code")
	}
	if IsCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestDumpIncludesChainAndCode(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodePersistence, cause, "upsert intent")
	dump := Dump(err)
	if dump.Code != CodePersistence {
		t.Fatalf("expected code %s got %s", CodePersistence, dump.Code)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", dump.Chain)
	}
	if dump.PGCode != "" {
		t.Fatalf("expected no pg code for plain cause")
	}
}

func TestDumpExtractsPgxFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "branch_stock_quantity_check", TableName: "branch_stock", Message: "check violation"}
	dump := Dump(Wrap(CodeInternalSettlement, pgErr, "decrement"))
	if dump.PGCode != "23514" || dump.PGConstraint != "branch_stock_quantity_check" || dump.PGTable != "branch_stock" {
		t.Fatalf("unexpected pg fields %+v", dump)
	}
}

func TestDumpFlagsStockGuardAndRetryable(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "branch_stock_quantity_check", TableName: "branch_stock"}
	dump := Dump(Wrap(CodePersistence, pgErr, "decrement"))
	if !dump.StockGuard || dump.LockTimeout {
		t.Fatalf("expected stock guard flag only, got %+v", dump)
	}
	if !dump.Retryable {
		t.Fatalf("persistence errors are retryable")
	}
}

func TestDumpReadsLibPQLockTimeout(t *testing.T) {
	dump := Dump(fmt.Errorf("lock intent: %w", &pq.Error{Code: "55P03", Table: "payment_intents", Message: "canceling statement due to lock timeout"}))
	if !dump.LockTimeout || dump.PGTable != "payment_intents" {
		t.Fatalf("unexpected dump %+v", dump)
	}
	if dump.Code != "" {
		t.Fatalf("untyped errors carry no code, got %s", dump.Code)
	}
}
