package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
)

func TestMapSubscriptionStatus(t *testing.T) {
	cases := map[string]string{
		"active":             "active",
		"trialing":           "active",
		"past_due":           "past_due",
		"unpaid":             "past_due",
		"canceled":           "canceled",
		"incomplete_expired": "canceled",
		"incomplete":         "incomplete",
		"paused":             "incomplete",
	}
	for stripeStatus, want := range cases {
		if got := MapSubscriptionStatus(stripeStatus); got != want {
			t.Fatalf("MapSubscriptionStatus(%q) = %q, want %q", stripeStatus, got, want)
		}
	}
}

func TestUpsertSubscriptionResolvesUser(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	m := NewSubscriptionMirror(mockDB, logrus.New())

	var obj StripeSubscriptionObject
	raw := `{"id":"sub_1","customer":"cus_1","status":"trialing","items":{"data":[{"id":"si_1","current_period_end":1700000000,"quantity":2,"price":{"id":"price_1"}}]}}`
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		t.Fatalf("failed to unmarshal subscription: %v", err)
	}

	mock.ExpectQuery("SELECT id FROM bursar.users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec("INSERT INTO bursar.subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bursar.users SET subscription_status").
		WithArgs("active", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.UpsertSubscription(context.Background(), obj, "acct_1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkSubscriptionCanceledMissingRow(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	m := NewSubscriptionMirror(mockDB, logrus.New())

	mock.ExpectExec("UPDATE bursar.subscriptions").
		WithArgs("sub_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := m.MarkSubscriptionCanceled(context.Background(), "sub_missing"); err != nil {
		t.Fatalf("expected missing row to be tolerated, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkSessionExpired(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	m := NewSubscriptionMirror(mockDB, logrus.New())

	var obj StripeCheckoutSessionObject
	obj.ID = "cs_1"
	obj.CustomerID = "cus_1"

	mock.ExpectExec("INSERT INTO bursar.checkout_sessions").
		WithArgs("cs_1", "cus_1", nil, "", "expired", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.MarkSessionExpired(context.Background(), obj); err != nil {
		t.Fatalf("mark expired: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
