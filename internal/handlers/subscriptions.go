package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/auraa-ai/billing/pkg/logging"
)

// SubscriptionMirror keeps the local subscription and checkout session
// projections in sync with processor webhooks. Stripe stays the source of
// truth; the last webhook processed per object id wins.
type SubscriptionMirror struct {
	db     *sql.DB
	logger logging.Logger
}

func NewSubscriptionMirror(database *sql.DB, log logging.Logger) *SubscriptionMirror {
	return &SubscriptionMirror{
		db:     database,
		logger: log,
	}
}

// MapSubscriptionStatus folds Stripe's status vocabulary into the local
// enum: incomplete, active, past_due, canceled.
func MapSubscriptionStatus(status string) string {
	switch status {
	case "active", "trialing":
		return "active"
	case "past_due", "unpaid":
		return "past_due"
	case "canceled", "incomplete_expired":
		return "canceled"
	case "incomplete", "paused":
		return "incomplete"
	default:
		return status
	}
}

// UpsertSubscription creates or updates the mirrored subscription row.
func (m *SubscriptionMirror) UpsertSubscription(ctx context.Context, obj StripeSubscriptionObject, accountID string) error {
	status := MapSubscriptionStatus(obj.Status)

	var periodEnd *time.Time
	var priceID string
	var quantity int64 = 1
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0)
			periodEnd = &t
		}
		priceID = item.Price.ID
		if item.Quantity > 0 {
			quantity = item.Quantity
		}
	}

	userID := m.resolveUserID(ctx, obj.CustomerID, obj.Metadata.UserID)

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO bursar.subscriptions (
			stripe_subscription_id, stripe_customer_id, user_id, account_id,
			status, price_id, quantity, current_period_end, cancel_at_period_end,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			user_id = COALESCE(EXCLUDED.user_id, bursar.subscriptions.user_id),
			account_id = EXCLUDED.account_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			quantity = EXCLUDED.quantity,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
	`, obj.ID, obj.CustomerID, userID, accountID, status, priceID, quantity, periodEnd, obj.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	if userID.Valid {
		if _, err := m.db.ExecContext(ctx, `
			UPDATE bursar.users SET subscription_status = $1, updated_at = NOW() WHERE id = $2
		`, status, userID.String); err != nil {
			m.logger.WithError(err).WithField("user_id", userID.String).Warn("Failed to update user subscription status")
		}
	}

	m.logger.WithFields(logging.Fields{
		"subscription_id": obj.ID,
		"stripe_status":   obj.Status,
		"our_status":      status,
	}).Info("Updated mirrored subscription from Stripe webhook")

	return nil
}

// MarkSubscriptionCanceled marks the mirrored row canceled.
func (m *SubscriptionMirror) MarkSubscriptionCanceled(ctx context.Context, subscriptionID string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE bursar.subscriptions
		SET status = 'canceled', updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to mark subscription canceled: %w", err)
	}

	if updated, _ := res.RowsAffected(); updated == 0 {
		m.logger.WithField("subscription_id", subscriptionID).Warn("No mirrored subscription found to cancel")
		return nil
	}

	if _, err := m.db.ExecContext(ctx, `
		UPDATE bursar.users SET subscription_status = 'canceled', updated_at = NOW()
		WHERE id = (SELECT user_id FROM bursar.subscriptions WHERE stripe_subscription_id = $1)
	`, subscriptionID); err != nil {
		m.logger.WithError(err).WithField("subscription_id", subscriptionID).Warn("Failed to update user subscription status")
	}

	m.logger.WithField("subscription_id", subscriptionID).Info("Marked mirrored subscription canceled")
	return nil
}

// HandleCheckoutCompleted resolves the user by Stripe customer id, marks
// the subscription active, and persists the session row. An unknown
// customer is logged and skipped without mutation, so redelivery does not
// turn into a retry storm.
func (m *SubscriptionMirror) HandleCheckoutCompleted(ctx context.Context, obj StripeCheckoutSessionObject) error {
	var userID string
	err := m.db.QueryRowContext(ctx, `
		SELECT id FROM bursar.users WHERE stripe_customer_id = $1
	`, obj.CustomerID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.WithFields(logging.Fields{
			"session_id":  obj.ID,
			"customer_id": obj.CustomerID,
		}).Error("No user found for Stripe customer, skipping checkout completion")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve user for checkout session: %w", err)
	}

	if _, err := m.db.ExecContext(ctx, `
		UPDATE bursar.users SET subscription_status = 'active', updated_at = NOW() WHERE id = $1
	`, userID); err != nil {
		return fmt.Errorf("failed to activate user subscription: %w", err)
	}

	if err := m.upsertSession(ctx, obj, userID, "complete"); err != nil {
		return err
	}

	m.logger.WithFields(logging.Fields{
		"session_id":      obj.ID,
		"user_id":         userID,
		"subscription_id": obj.Subscription,
	}).Info("Processed completed checkout session")

	return nil
}

// MarkSessionExpired persists the session row as expired.
func (m *SubscriptionMirror) MarkSessionExpired(ctx context.Context, obj StripeCheckoutSessionObject) error {
	if err := m.upsertSession(ctx, obj, "", "expired"); err != nil {
		return err
	}
	m.logger.WithField("session_id", obj.ID).Info("Marked checkout session expired")
	return nil
}

func (m *SubscriptionMirror) upsertSession(ctx context.Context, obj StripeCheckoutSessionObject, userID, status string) error {
	var uid interface{}
	if userID != "" {
		uid = userID
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO bursar.checkout_sessions (
			session_id, stripe_customer_id, user_id, subscription_id,
			status, payment_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = COALESCE(EXCLUDED.user_id, bursar.checkout_sessions.user_id),
			subscription_id = EXCLUDED.subscription_id,
			status = EXCLUDED.status,
			payment_status = EXCLUDED.payment_status,
			updated_at = NOW()
	`, obj.ID, obj.CustomerID, uid, obj.Subscription, status, obj.PaymentStatus)
	if err != nil {
		return fmt.Errorf("failed to upsert checkout session: %w", err)
	}
	return nil
}

func (m *SubscriptionMirror) resolveUserID(ctx context.Context, customerID, metadataUserID string) sql.NullString {
	var userID string
	err := m.db.QueryRowContext(ctx, `
		SELECT id FROM bursar.users WHERE stripe_customer_id = $1
	`, customerID).Scan(&userID)
	if err == nil {
		return sql.NullString{String: userID, Valid: true}
	}
	if metadataUserID != "" {
		return sql.NullString{String: metadataUserID, Valid: true}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		m.logger.WithError(err).WithField("customer_id", customerID).Warn("Failed to resolve user for Stripe customer")
	}
	return sql.NullString{}
}
