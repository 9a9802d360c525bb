package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	billingstripe "github.com/auraa-ai/billing/internal/stripe"
	"github.com/auraa-ai/billing/pkg/logging"
)

// BalanceGuard preserves a connected account's funds while a failed
// invoice is pending retry: on failure the payout schedule is snapshotted
// and switched to manual, on success the original schedule comes back.
type BalanceGuard struct {
	db        *sql.DB
	processor ProcessorClient
	logger    logging.Logger
}

func NewBalanceGuard(database *sql.DB, proc ProcessorClient, log logging.Logger) *BalanceGuard {
	return &BalanceGuard{
		db:        database,
		processor: proc,
		logger:    log,
	}
}

// SwitchToManual snapshots the account's current payout schedule and sets
// it to manual. The snapshot insert is conditional on no snapshot existing
// for the account, so a second failure before restore never overwrites the
// original schedule with the manual one.
func (g *BalanceGuard) SwitchToManual(ctx context.Context, accountID string) error {
	sched, err := g.processor.GetPayoutSchedule(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to read payout schedule: %w", err)
	}

	snapshot, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("failed to serialize payout schedule: %w", err)
	}

	res, err := g.db.ExecContext(ctx, `
		INSERT INTO bursar.payout_schedule_snapshots (account_id, schedule, failed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, snapshot)
	if err != nil {
		return fmt.Errorf("failed to store payout schedule snapshot: %w", err)
	}

	if inserted, _ := res.RowsAffected(); inserted == 0 {
		g.logger.WithField("account_id", accountID).Debug("Payout schedule snapshot already exists, keeping original")
	}

	if err := g.processor.UpdatePayoutSchedule(ctx, accountID, billingstripe.ManualSchedule()); err != nil {
		return fmt.Errorf("failed to set payout schedule to manual: %w", err)
	}

	g.logger.WithFields(logging.Fields{
		"account_id": accountID,
		"interval":   sched.Interval,
	}).Info("Switched connected account payouts to manual")

	return nil
}

// Restore applies the stored payout schedule back to the account and
// deletes the snapshot. No snapshot means nothing to do.
func (g *BalanceGuard) Restore(ctx context.Context, accountID string) error {
	var snapshot []byte
	err := g.db.QueryRowContext(ctx, `
		SELECT schedule FROM bursar.payout_schedule_snapshots WHERE account_id = $1
	`, accountID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		g.logger.WithField("account_id", accountID).Debug("No payout schedule snapshot to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load payout schedule snapshot: %w", err)
	}

	var sched billingstripe.PayoutSchedule
	if err := json.Unmarshal(snapshot, &sched); err != nil {
		return fmt.Errorf("failed to parse payout schedule snapshot: %w", err)
	}

	if err := g.processor.UpdatePayoutSchedule(ctx, accountID, sched); err != nil {
		return fmt.Errorf("failed to restore payout schedule: %w", err)
	}

	if _, err := g.db.ExecContext(ctx, `
		DELETE FROM bursar.payout_schedule_snapshots WHERE account_id = $1
	`, accountID); err != nil {
		return fmt.Errorf("failed to delete payout schedule snapshot: %w", err)
	}

	g.logger.WithFields(logging.Fields{
		"account_id": accountID,
		"interval":   sched.Interval,
	}).Info("Restored connected account payout schedule")

	return nil
}
