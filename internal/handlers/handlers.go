package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Billing API Endpoints

// GetBillingStatus returns the authenticated user's mirrored subscription
// state.
func GetBillingStatus(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var subscriptionStatus string
	var subscriptionID, priceID sql.NullString
	var periodEnd sql.NullTime
	var cancelAtPeriodEnd sql.NullBool
	err := db.QueryRowContext(ctx, `
		SELECT u.subscription_status, s.stripe_subscription_id, s.price_id,
		       s.current_period_end, s.cancel_at_period_end
		FROM bursar.users u
		LEFT JOIN bursar.subscriptions s ON s.user_id = u.id AND s.status != 'canceled'
		WHERE u.id = $1
	`, userID).Scan(&subscriptionStatus, &subscriptionID, &priceID, &periodEnd, &cancelAtPeriodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to fetch billing status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch billing status"})
		return
	}

	resp := gin.H{"subscription_status": subscriptionStatus}
	if subscriptionID.Valid {
		resp["subscription_id"] = subscriptionID.String
		resp["price_id"] = priceID.String
		resp["cancel_at_period_end"] = cancelAtPeriodEnd.Bool
		if periodEnd.Valid {
			resp["current_period_end"] = periodEnd.Time
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetFailedInvoices lists recent invoice failure records for operators.
func GetFailedInvoices(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT invoice_id, account_id, subscription_id, amount_due_cents,
		       currency, attempt_count, status, last_error, failed_at, retried_at
		FROM bursar.failed_invoices
		ORDER BY failed_at DESC
		LIMIT 100
	`)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch failed invoices")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch failed invoices"})
		return
	}
	defer rows.Close()

	type failedInvoice struct {
		InvoiceID      string     `json:"invoice_id"`
		AccountID      string     `json:"account_id"`
		SubscriptionID string     `json:"subscription_id"`
		AmountDueCents int64      `json:"amount_due_cents"`
		Currency       string     `json:"currency"`
		AttemptCount   int        `json:"attempt_count"`
		Status         string     `json:"status"`
		LastError      string     `json:"last_error,omitempty"`
		FailedAt       time.Time  `json:"failed_at"`
		RetriedAt      *time.Time `json:"retried_at,omitempty"`
	}
	invoices := []failedInvoice{}
	for rows.Next() {
		var inv failedInvoice
		var retriedAt sql.NullTime
		if err := rows.Scan(&inv.InvoiceID, &inv.AccountID, &inv.SubscriptionID, &inv.AmountDueCents,
			&inv.Currency, &inv.AttemptCount, &inv.Status, &inv.LastError, &inv.FailedAt, &retriedAt); err != nil {
			continue
		}
		if retriedAt.Valid {
			inv.RetriedAt = &retriedAt.Time
		}
		invoices = append(invoices, inv)
	}

	c.JSON(http.StatusOK, gin.H{"failed_invoices": invoices})
}

// HandleRetrySweep triggers a failed-invoice sweep over HTTP. Guarded by
// the service token middleware.
func HandleRetrySweep(c *gin.Context) {
	result, err := jobManager.SweepFailedInvoices(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed invoice sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
