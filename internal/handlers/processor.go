package handlers

import (
	"context"

	"github.com/stripe/stripe-go/v82"

	billingstripe "github.com/auraa-ai/billing/internal/stripe"
)

// ProcessorClient is the subset of payment processor operations the
// reconciliation flow depends on. *billingstripe.Client satisfies it.
type ProcessorClient interface {
	GetInvoice(ctx context.Context, accountID, invoiceID string) (*stripe.Invoice, error)
	PayInvoice(ctx context.Context, accountID, invoiceID string) (*stripe.Invoice, error)
	GetBalance(ctx context.Context, accountID string) (*stripe.Balance, error)
	GetPayoutSchedule(ctx context.Context, accountID string) (billingstripe.PayoutSchedule, error)
	UpdatePayoutSchedule(ctx context.Context, accountID string, sched billingstripe.PayoutSchedule) error
}
