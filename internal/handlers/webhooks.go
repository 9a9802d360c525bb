package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/auraa-ai/billing/pkg/logging"
)

// verifyStripeSignature verifies the Stripe webhook signature using HMAC-SHA256
func verifyStripeSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	// Parse Stripe signature header format: t=timestamp,v1=signature,v1=signature
	elements := strings.Split(signature, ",")
	var timestamp string
	var signatures []string

	for _, element := range elements {
		parts := strings.SplitN(element, "=", 2)
		if len(parts) != 2 {
			continue
		}

		switch parts[0] {
		case "t":
			timestamp = parts[1]
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		logger.Error("Invalid Stripe signature format: missing timestamp or signatures")
		return false
	}

	// Verify timestamp is within tolerance (5 minutes)
	timestampInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		logger.WithFields(logging.Fields{
			"timestamp": timestamp,
			"error":     err,
		}).Error("Failed to parse Stripe webhook timestamp")
		return false
	}

	now := time.Now().Unix()
	if now-timestampInt > 300 { // 5 minutes tolerance
		logger.WithFields(logging.Fields{
			"timestamp":   timestampInt,
			"current":     now,
			"age_seconds": now - timestampInt,
		}).Warn("Stripe webhook timestamp too old")
		return false
	}

	// Create signed payload: timestamp + "." + payload
	signedPayload := timestamp + "." + string(payload)

	// Calculate expected signature using HMAC-SHA256
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	// Compare with provided signatures using constant-time comparison
	for _, providedSig := range signatures {
		if hmac.Equal([]byte(expectedSignature), []byte(providedSig)) {
			return true
		}
	}

	logger.WithFields(logging.Fields{
		"timestamp":   timestamp,
		"payload_len": len(payload),
	}).Warn("Stripe signature verification failed")

	return false
}

// HandleStripeWebhook verifies, deduplicates, and routes a Stripe webhook
// delivery. Bad signatures are rejected with 400 before any state is
// touched; handler failures surface as 500 so Stripe redelivers.
func HandleStripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "Failed to read body")
		return
	}

	if webhookSecret == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET not configured; rejecting webhook")
		c.String(http.StatusServiceUnavailable, "Webhook verification not configured")
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if !verifyStripeSignature(body, signature, webhookSecret) {
		recordWebhookSignatureFailure("stripe")
		c.String(http.StatusBadRequest, "Invalid signature")
		return
	}

	var payload StripeWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WithError(err).Warn("Invalid Stripe webhook payload")
		c.String(http.StatusBadRequest, "Invalid payload")
		return
	}

	logger.WithFields(logging.Fields{
		"event_id":   payload.ID,
		"event_type": payload.Type,
		"account_id": payload.Account,
	}).Info("Received Stripe webhook")

	// Check idempotency - skip if already processed
	if isWebhookAlreadyProcessed("stripe", payload.ID) {
		logger.WithField("event_id", payload.ID).Debug("Stripe webhook already processed, skipping")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	switch parseEventKind(payload.Type) {
	case eventInvoicePaymentFailed:
		err = handleInvoicePaymentFailed(ctx, payload)
	case eventInvoicePaymentSucceeded:
		err = handleInvoicePaymentSucceeded(ctx, payload)
	case eventSubscriptionCreated, eventSubscriptionUpdated:
		err = handleSubscriptionUpserted(ctx, payload)
	case eventSubscriptionDeleted:
		err = handleSubscriptionDeleted(ctx, payload)
	case eventCheckoutCompleted:
		err = handleCheckoutCompleted(ctx, payload)
	case eventCheckoutExpired:
		err = handleCheckoutExpired(ctx, payload)
	case eventUnknown:
		logger.WithField("event_type", payload.Type).Debug("Ignoring unhandled Stripe event type")
	}

	if err != nil {
		logger.WithError(err).WithField("event_type", payload.Type).Error("Failed to process Stripe webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook"})
		return
	}

	markWebhookProcessed("stripe", payload.ID, payload.Type)
	if metrics != nil && metrics.WebhookEvents != nil {
		metrics.WebhookEvents.WithLabelValues(payload.Type).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// isWebhookAlreadyProcessed checks if a webhook event was already processed
func isWebhookAlreadyProcessed(provider, eventID string) bool {
	if db == nil {
		return false
	}
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM bursar.webhook_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	return err == nil && exists
}

// markWebhookProcessed marks a webhook event as processed
func markWebhookProcessed(provider, eventID, eventType string) {
	if db == nil {
		return
	}
	_, err := db.Exec(`
		INSERT INTO bursar.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}

func recordWebhookSignatureFailure(provider string) {
	if metrics == nil || metrics.WebhookSignatureFailures == nil {
		return
	}
	metrics.WebhookSignatureFailures.WithLabelValues(provider).Inc()
}

// handleInvoicePaymentFailed records the failure locally and switches the
// connected account to manual payouts so funds stay available for retry.
func handleInvoicePaymentFailed(ctx context.Context, payload StripeWebhookPayload) error {
	var obj StripeInvoiceObject
	if err := json.Unmarshal(payload.Data.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO bursar.failed_invoices (
			invoice_id, account_id, subscription_id, amount_due_cents,
			currency, attempt_count, status, failed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'failed', NOW(), NOW())
		ON CONFLICT (invoice_id) DO UPDATE SET
			amount_due_cents = EXCLUDED.amount_due_cents,
			attempt_count = EXCLUDED.attempt_count,
			status = 'failed',
			failed_at = NOW(),
			updated_at = NOW()
	`, obj.ID, payload.Account, obj.SubscriptionID, obj.AmountDue, obj.Currency, obj.AttemptCount)
	if err != nil {
		return fmt.Errorf("failed to record failed invoice: %w", err)
	}

	if payload.Account != "" {
		if err := guard.SwitchToManual(ctx, payload.Account); err != nil {
			return fmt.Errorf("failed to switch payouts to manual: %w", err)
		}
	}

	logger.WithFields(logging.Fields{
		"invoice_id":    obj.ID,
		"account_id":    payload.Account,
		"amount_due":    obj.AmountDue,
		"attempt_count": obj.AttemptCount,
	}).Warn("Stripe invoice payment failed")

	return nil
}

// handleInvoicePaymentSucceeded resolves the failure record and restores
// the account's original payout schedule.
func handleInvoicePaymentSucceeded(ctx context.Context, payload StripeWebhookPayload) error {
	var obj StripeInvoiceObject
	if err := json.Unmarshal(payload.Data.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}

	_, err := db.ExecContext(ctx, `
		UPDATE bursar.failed_invoices
		SET status = 'retried_successfully', retried_at = NOW(), updated_at = NOW()
		WHERE invoice_id = $1 AND status = 'failed'
	`, obj.ID)
	if err != nil {
		return fmt.Errorf("failed to resolve failed invoice record: %w", err)
	}

	if payload.Account != "" {
		if err := guard.Restore(ctx, payload.Account); err != nil {
			return fmt.Errorf("failed to restore payout schedule: %w", err)
		}
	}

	logger.WithFields(logging.Fields{
		"invoice_id":  obj.ID,
		"account_id":  payload.Account,
		"amount_paid": obj.AmountPaid,
	}).Info("Processed successful Stripe invoice payment")

	return nil
}

func handleSubscriptionUpserted(ctx context.Context, payload StripeWebhookPayload) error {
	var obj StripeSubscriptionObject
	if err := json.Unmarshal(payload.Data.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}
	return mirror.UpsertSubscription(ctx, obj, payload.Account)
}

func handleSubscriptionDeleted(ctx context.Context, payload StripeWebhookPayload) error {
	var obj StripeSubscriptionObject
	if err := json.Unmarshal(payload.Data.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}
	return mirror.MarkSubscriptionCanceled(ctx, obj.ID)
}

func handleCheckoutCompleted(ctx context.Context, payload StripeWebhookPayload) error {
	var obj StripeCheckoutSessionObject
	if err := json.Unmarshal(payload.Data.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}
	return mirror.HandleCheckoutCompleted(ctx, obj)
}

func handleCheckoutExpired(ctx context.Context, payload StripeWebhookPayload) error {
	var obj StripeCheckoutSessionObject
	if err := json.Unmarshal(payload.Data.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}
	return mirror.MarkSessionExpired(ctx, obj)
}
