package handlers

import (
	"encoding/json"
)

// Stripe webhook event envelope. The account field is set on Connect
// events originating from a connected account.
type StripeWebhookPayload struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`
	Data    struct {
		Object json.RawMessage `json:"object"` // Parsed per event type
	} `json:"data"`
}

// eventKind enumerates the webhook event types the dispatcher handles.
// Routing switches exhaustively on this instead of raw type strings.
type eventKind int

const (
	eventUnknown eventKind = iota
	eventInvoicePaymentFailed
	eventInvoicePaymentSucceeded
	eventSubscriptionCreated
	eventSubscriptionUpdated
	eventSubscriptionDeleted
	eventCheckoutCompleted
	eventCheckoutExpired
)

func parseEventKind(eventType string) eventKind {
	switch eventType {
	case "invoice.payment_failed":
		return eventInvoicePaymentFailed
	case "invoice.payment_succeeded", "invoice.paid":
		return eventInvoicePaymentSucceeded
	case "customer.subscription.created":
		return eventSubscriptionCreated
	case "customer.subscription.updated":
		return eventSubscriptionUpdated
	case "customer.subscription.deleted":
		return eventSubscriptionDeleted
	case "checkout.session.completed":
		return eventCheckoutCompleted
	case "checkout.session.expired":
		return eventCheckoutExpired
	default:
		return eventUnknown
	}
}

// StripeInvoiceObject for invoice.* events
type StripeInvoiceObject struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer"`
	SubscriptionID string `json:"subscription"`
	Status         string `json:"status"` // paid, open, draft, uncollectible, void
	AmountDue      int64  `json:"amount_due"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	AttemptCount   int    `json:"attempt_count"`
}

// StripeSubscriptionObject for customer.subscription.* events
type StripeSubscriptionObject struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer"`
	Status            string `json:"status"` // active, past_due, canceled, trialing, etc.
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			ID               string `json:"id"`
			CurrentPeriodEnd int64  `json:"current_period_end"`
			Quantity         int64  `json:"quantity"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}

// StripeCheckoutSessionObject for checkout.session.* events
type StripeCheckoutSessionObject struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer"`
	Subscription  string `json:"subscription"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Mode          string `json:"mode"` // "subscription" or "payment"
	Metadata      struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}
