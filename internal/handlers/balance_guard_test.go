package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	billingstripe "github.com/auraa-ai/billing/internal/stripe"
)

func TestSwitchToManualPreservesFirstSnapshot(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	original := billingstripe.PayoutSchedule{Interval: "weekly", WeeklyAnchor: "monday", DelayDays: 7}
	proc := &fakeProcessor{schedule: original}
	g := NewBalanceGuard(mockDB, proc, logrus.New())

	originalJSON, _ := json.Marshal(original)

	// First failure: snapshot row is inserted.
	mock.ExpectExec("INSERT INTO bursar.payout_schedule_snapshots").
		WithArgs("acct_1", originalJSON).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := g.SwitchToManual(context.Background(), "acct_1"); err != nil {
		t.Fatalf("first SwitchToManual: %v", err)
	}

	// Second failure before restore: the account now reports manual, but
	// the conditional insert must leave the stored snapshot untouched.
	proc.schedule = billingstripe.ManualSchedule()
	manualJSON, _ := json.Marshal(billingstripe.ManualSchedule())
	mock.ExpectExec("INSERT INTO bursar.payout_schedule_snapshots").
		WithArgs("acct_1", manualJSON).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := g.SwitchToManual(context.Background(), "acct_1"); err != nil {
		t.Fatalf("second SwitchToManual: %v", err)
	}

	if len(proc.updates) != 2 {
		t.Fatalf("expected 2 schedule updates, got %d", len(proc.updates))
	}
	for _, sched := range proc.updates {
		if sched.Interval != "manual" {
			t.Fatalf("expected manual schedule update, got %q", sched.Interval)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRestoreAppliesSnapshotAndDeletes(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	original := billingstripe.PayoutSchedule{Interval: "daily", DelayDays: 2}
	snapshot, _ := json.Marshal(original)

	proc := &fakeProcessor{}
	g := NewBalanceGuard(mockDB, proc, logrus.New())

	mock.ExpectQuery("SELECT schedule FROM bursar.payout_schedule_snapshots").
		WithArgs("acct_1").
		WillReturnRows(sqlmock.NewRows([]string{"schedule"}).AddRow(snapshot))
	mock.ExpectExec("DELETE FROM bursar.payout_schedule_snapshots").
		WithArgs("acct_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := g.Restore(context.Background(), "acct_1"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if len(proc.updates) != 1 {
		t.Fatalf("expected 1 schedule update, got %d", len(proc.updates))
	}
	if proc.updates[0] != original {
		t.Fatalf("expected original schedule restored, got %+v", proc.updates[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRestoreWithoutSnapshotIsNoop(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	proc := &fakeProcessor{}
	g := NewBalanceGuard(mockDB, proc, logrus.New())

	mock.ExpectQuery("SELECT schedule FROM bursar.payout_schedule_snapshots").
		WithArgs("acct_none").
		WillReturnRows(sqlmock.NewRows([]string{"schedule"}))

	if err := g.Restore(context.Background(), "acct_none"); err != nil {
		t.Fatalf("expected no error for missing snapshot, got %v", err)
	}
	if len(proc.updates) != 0 {
		t.Fatalf("expected no schedule updates, got %d", len(proc.updates))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
