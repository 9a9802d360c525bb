package handlers

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"

	billingstripe "github.com/auraa-ai/billing/internal/stripe"
)

var errTest = errors.New("stripe unavailable")

// fakeProcessor is an in-memory ProcessorClient for tests.
type fakeProcessor struct {
	schedule    billingstripe.PayoutSchedule
	scheduleErr error
	updates     []billingstripe.PayoutSchedule
	updateErr   error

	invoice    *stripe.Invoice
	invoiceErr error
	balance    *stripe.Balance
	balanceErr error
	paidIDs    []string
	payErr     error
}

func (f *fakeProcessor) GetInvoice(ctx context.Context, accountID, invoiceID string) (*stripe.Invoice, error) {
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	return f.invoice, nil
}

func (f *fakeProcessor) PayInvoice(ctx context.Context, accountID, invoiceID string) (*stripe.Invoice, error) {
	if f.payErr != nil {
		return nil, f.payErr
	}
	f.paidIDs = append(f.paidIDs, invoiceID)
	return f.invoice, nil
}

func (f *fakeProcessor) GetBalance(ctx context.Context, accountID string) (*stripe.Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeProcessor) GetPayoutSchedule(ctx context.Context, accountID string) (billingstripe.PayoutSchedule, error) {
	if f.scheduleErr != nil {
		return billingstripe.PayoutSchedule{}, f.scheduleErr
	}
	return f.schedule, nil
}

func (f *fakeProcessor) UpdatePayoutSchedule(ctx context.Context, accountID string, sched billingstripe.PayoutSchedule) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, sched)
	return nil
}

func balanceOf(values ...int64) *stripe.Balance {
	bal := &stripe.Balance{}
	for _, v := range values {
		bal.Available = append(bal.Available, &stripe.BalanceAmount{Amount: v, Currency: stripe.CurrencyUSD})
	}
	return bal
}
