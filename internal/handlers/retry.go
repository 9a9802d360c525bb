package handlers

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"github.com/auraa-ai/billing/pkg/logging"
)

// ReasonInsufficientBalance marks a retry that could not proceed because
// the account balance does not cover the amount due. It is an expected
// outcome, not an error.
const ReasonInsufficientBalance = "insufficient_balance"

// RetryOutcome is the structured result of a single invoice retry.
type RetryOutcome struct {
	Success   bool            `json:"success"`
	Reason    string          `json:"reason,omitempty"`
	Needed    int64           `json:"needed"`
	Available int64           `json:"available"`
	Invoice   *stripe.Invoice `json:"invoice,omitempty"`
}

// RetryEngine re-attempts payment of a failed invoice when the connected
// account's available balance covers the amount due.
type RetryEngine struct {
	processor ProcessorClient
	logger    logging.Logger
}

func NewRetryEngine(proc ProcessorClient, log logging.Logger) *RetryEngine {
	return &RetryEngine{
		processor: proc,
		logger:    log,
	}
}

// Retry compares the account's available balance, summed across all
// buckets, against the invoice amount due. Missing amount due is treated
// as zero, so an empty invoice always pays. Processor API errors
// propagate; insufficiency comes back as a structured outcome.
func (e *RetryEngine) Retry(ctx context.Context, invoiceID, accountID string) (*RetryOutcome, error) {
	inv, err := e.processor.GetInvoice(ctx, accountID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice: %w", err)
	}

	bal, err := e.processor.GetBalance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	var available int64
	for _, bucket := range bal.Available {
		available += bucket.Amount
	}

	var needed int64
	if inv != nil {
		needed = inv.AmountDue
	}

	if available < needed {
		e.logger.WithFields(logging.Fields{
			"invoice_id": invoiceID,
			"account_id": accountID,
			"needed":     needed,
			"available":  available,
		}).Info("Insufficient balance for invoice retry")
		e.recordRetry("insufficient")
		return &RetryOutcome{
			Success:   false,
			Reason:    ReasonInsufficientBalance,
			Needed:    needed,
			Available: available,
		}, nil
	}

	paid, err := e.processor.PayInvoice(ctx, accountID, invoiceID)
	if err != nil {
		e.recordRetry("error")
		return nil, fmt.Errorf("failed to pay invoice: %w", err)
	}

	e.logger.WithFields(logging.Fields{
		"invoice_id": invoiceID,
		"account_id": accountID,
		"needed":     needed,
		"available":  available,
	}).Info("Retried invoice payment successfully")
	e.recordRetry("success")

	return &RetryOutcome{
		Success:   true,
		Needed:    needed,
		Available: available,
		Invoice:   paid,
	}, nil
}

func (e *RetryEngine) recordRetry(result string) {
	if metrics == nil || metrics.InvoiceRetries == nil {
		return
	}
	metrics.InvoiceRetries.WithLabelValues(result).Inc()
}
