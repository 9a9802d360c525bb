package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
)

func TestSweepSkipsRecordsOutsideWindow(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	proc := &fakeProcessor{
		invoice: &stripe.Invoice{ID: "in_x", AmountDue: 5000},
		balance: balanceOf(5000),
	}
	jm := &JobManager{
		db:          mockDB,
		logger:      logrus.New(),
		retryEngine: NewRetryEngine(proc, logrus.New()),
		stopCh:      make(chan struct{}),
	}

	now := time.Now()
	mock.ExpectQuery("SELECT invoice_id, account_id, failed_at").
		WillReturnRows(sqlmock.NewRows([]string{"invoice_id", "account_id", "failed_at"}).
			AddRow("in_10d", "acct_1", now.Add(-10*24*time.Hour)).
			AddRow("in_20d", "acct_1", now.Add(-20*24*time.Hour)).
			AddRow("in_40d", "acct_1", now.Add(-40*24*time.Hour)))

	mock.ExpectExec("UPDATE bursar.failed_invoices").
		WithArgs("in_10d").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bursar.failed_invoices").
		WithArgs("in_20d").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := jm.SweepFailedInvoices(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(result.Results) != 2 {
		t.Fatalf("expected 2 processed records, got %d", len(result.Results))
	}
	if result.RetriedCount != 2 {
		t.Fatalf("expected retried_count=2, got %d", result.RetriedCount)
	}
	if len(proc.paidIDs) != 2 {
		t.Fatalf("expected 2 payments, got %v", proc.paidIDs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSweepRecordsInsufficientBalance(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	proc := &fakeProcessor{
		invoice: &stripe.Invoice{ID: "in_1", AmountDue: 5000},
		balance: balanceOf(3000),
	}
	jm := &JobManager{
		db:          mockDB,
		logger:      logrus.New(),
		retryEngine: NewRetryEngine(proc, logrus.New()),
		stopCh:      make(chan struct{}),
	}

	mock.ExpectQuery("SELECT invoice_id, account_id, failed_at").
		WillReturnRows(sqlmock.NewRows([]string{"invoice_id", "account_id", "failed_at"}).
			AddRow("in_1", "acct_1", time.Now().Add(-24*time.Hour)))

	mock.ExpectExec("UPDATE bursar.failed_invoices").
		WithArgs("insufficient_balance: needed 5000, available 3000", "in_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := jm.SweepFailedInvoices(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if result.RetriedCount != 0 {
		t.Fatalf("expected retried_count=0, got %d", result.RetriedCount)
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(result.Results))
	}
	item := result.Results[0]
	if item.Result == nil || item.Result.Success {
		t.Fatalf("expected unsuccessful structured outcome, got %+v", item)
	}
	if item.Result.Reason != ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance reason, got %q", item.Result.Reason)
	}
	if len(proc.paidIDs) != 0 {
		t.Fatalf("expected no payments, got %v", proc.paidIDs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSweepCapturesRetryErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	proc := &fakeProcessor{
		invoice: &stripe.Invoice{ID: "in_1", AmountDue: 5000},
		balance: balanceOf(5000),
		payErr:  errTest,
	}
	jm := &JobManager{
		db:          mockDB,
		logger:      logrus.New(),
		retryEngine: NewRetryEngine(proc, logrus.New()),
		stopCh:      make(chan struct{}),
	}

	mock.ExpectQuery("SELECT invoice_id, account_id, failed_at").
		WillReturnRows(sqlmock.NewRows([]string{"invoice_id", "account_id", "failed_at"}).
			AddRow("in_1", "acct_1", time.Now().Add(-24*time.Hour)))

	mock.ExpectExec("UPDATE bursar.failed_invoices").
		WithArgs(sqlmock.AnyArg(), "in_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := jm.SweepFailedInvoices(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if result.RetriedCount != 0 {
		t.Fatalf("expected retried_count=0, got %d", result.RetriedCount)
	}
	if result.Results[0].Error == "" {
		t.Fatalf("expected error captured on sweep item")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
