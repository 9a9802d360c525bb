package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	billingstripe "github.com/auraa-ai/billing/internal/stripe"
	"github.com/auraa-ai/billing/pkg/logging"
)

type CreateCheckoutRequest struct {
	PriceID    string `json:"price_id" binding:"required"`
	SuccessURL string `json:"success_url" binding:"required"`
	CancelURL  string `json:"cancel_url" binding:"required"`
	TrialDays  int64  `json:"trial_days"`
}

// CreateCheckout creates a Stripe Checkout Session for the authenticated
// user, creating the Stripe customer first if the user has none yet.
func CreateCheckout(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	customerID, err := ensureStripeCustomer(ctx, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to resolve Stripe customer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	sess, err := stripeClient.CreateCheckoutSession(ctx, billingstripe.CheckoutSessionParams{
		CustomerID: customerID,
		UserID:     userID,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		TrialDays:  req.TrialDays,
	})
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to create checkout session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	})
}

// CreateBillingPortal creates a Stripe Billing Portal session so the user
// can manage their subscription.
func CreateBillingPortal(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req struct {
		ReturnURL string `json:"return_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	var customerID sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT stripe_customer_id FROM bursar.users WHERE id = $1
	`, userID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !customerID.Valid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No billing account for user"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to look up Stripe customer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create portal session"})
		return
	}

	sess, err := stripeClient.CreateBillingPortalSession(ctx, customerID.String, req.ReturnURL)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to create billing portal session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"portal_url": sess.URL})
}

// ensureStripeCustomer returns the user's Stripe customer id, creating the
// customer and persisting the id when the user has none.
func ensureStripeCustomer(ctx context.Context, userID string) (string, error) {
	var email, displayName string
	var customerID sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT email, display_name, stripe_customer_id FROM bursar.users WHERE id = $1
	`, userID).Scan(&email, &displayName, &customerID)
	if err != nil {
		return "", err
	}
	if customerID.Valid && customerID.String != "" {
		return customerID.String, nil
	}

	cust, err := stripeClient.CreateOrGetCustomer(ctx, billingstripe.CustomerInfo{
		UserID: userID,
		Email:  email,
		Name:   displayName,
	})
	if err != nil {
		return "", err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE bursar.users SET stripe_customer_id = $1, updated_at = NOW() WHERE id = $2
	`, cust.ID, userID); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"user_id":     userID,
			"customer_id": cust.ID,
		}).Warn("Failed to persist Stripe customer id")
	}

	return cust.ID, nil
}
