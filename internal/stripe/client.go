package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/auraa-ai/billing/pkg/logging"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/balance"
	"github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Client wraps Stripe API operations for subscriptions, invoices and
// connected-account payout settings. Subscription lifecycle flows through
// Stripe Checkout and the Billing Portal; invoice recovery and payout
// schedule changes go through the Connect APIs.
type Client struct {
	secretKey     string
	webhookSecret string
	logger        logging.Logger
}

// Config for creating a new Stripe client
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	Logger        logging.Logger
}

// NewClient creates a new Stripe client
func NewClient(config Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = config.SecretKey

	return &Client{
		secretKey:     config.SecretKey,
		webhookSecret: config.WebhookSecret,
		logger:        config.Logger,
	}
}

// WebhookSecret returns the endpoint secret used for signature verification.
func (c *Client) WebhookSecret() string {
	return c.webhookSecret
}

// CustomerInfo represents user data for Stripe customer creation
type CustomerInfo struct {
	UserID   string
	Email    string
	Name     string
	Metadata map[string]string
}

// CreateOrGetCustomer finds an existing customer by user ID or creates a new one
func (c *Client) CreateOrGetCustomer(ctx context.Context, info CustomerInfo) (*stripe.Customer, error) {
	// Search for existing customer by user_id metadata
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['user_id']:'%s'", info.UserID)
	iter := customer.Search(params)

	for iter.Next() {
		cust := iter.Customer()
		c.logger.WithField("customer_id", cust.ID).Debug("Found existing Stripe customer")
		return cust, nil
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("Error searching for Stripe customer, will create new")
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(info.Email),
		Name:  stripe.String(info.Name),
		Metadata: map[string]string{
			"user_id": info.UserID,
		},
	}
	for k, v := range info.Metadata {
		createParams.Metadata[k] = v
	}

	cust, err := customer.New(createParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"customer_id": cust.ID,
		"user_id":     info.UserID,
	}).Info("Created new Stripe customer")

	return cust, nil
}

// CheckoutSessionParams for creating a checkout session
type CheckoutSessionParams struct {
	CustomerID string // Stripe customer ID
	UserID     string // For metadata
	PriceID    string // Stripe Price ID (monthly or yearly)
	SuccessURL string
	CancelURL  string
	TrialDays  int64 // Optional trial period
}

// CreateCheckoutSession creates a Stripe Checkout Session for a subscription
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	metadata := map[string]string{
		"user_id": params.UserID,
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Customer: stripe.String(params.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata:   metadata,
	}

	// Ensure metadata lands on the created Stripe subscription as well.
	subscriptionData := &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: metadata,
	}
	if params.TrialDays > 0 {
		subscriptionData.TrialPeriodDays = stripe.Int64(params.TrialDays)
	}
	sessionParams.SubscriptionData = subscriptionData

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    params.UserID,
		"price_id":   params.PriceID,
	}).Info("Created Stripe checkout session")

	return sess, nil
}

// CreateBillingPortalSession creates a session for customers to manage their subscription
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing portal session: %w", err)
	}

	return sess, nil
}

// GetSubscription retrieves a subscription by ID
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription cancels a subscription at period end
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}

	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	c.logger.WithField("subscription_id", subscriptionID).Info("Subscription scheduled for cancellation")
	return sub, nil
}

// GetInvoice retrieves an invoice, optionally on a connected account.
func (c *Client) GetInvoice(ctx context.Context, accountID, invoiceID string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{}
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	inv, err := invoice.Get(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}

// PayInvoice attempts payment of an open invoice using the default payment source.
func (c *Client) PayInvoice(ctx context.Context, accountID, invoiceID string) (*stripe.Invoice, error) {
	params := &stripe.InvoicePayParams{}
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	inv, err := invoice.Pay(invoiceID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to pay invoice %s: %w", invoiceID, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"invoice_id": invoiceID,
		"account_id": accountID,
	}).Info("Invoice payment attempted")

	return inv, nil
}

// GetBalance retrieves the Stripe balance, scoped to a connected account when given.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*stripe.Balance, error) {
	params := &stripe.BalanceParams{}
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	bal, err := balance.Get(params)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for account %s: %w", accountID, err)
	}
	return bal, nil
}

// PayoutSchedule is a plain snapshot of a connected account's payout schedule,
// suitable for persisting and later restoring verbatim.
type PayoutSchedule struct {
	Interval      string `json:"interval"`
	WeeklyAnchor  string `json:"weekly_anchor,omitempty"`
	MonthlyAnchor int64  `json:"monthly_anchor,omitempty"`
	DelayDays     int64  `json:"delay_days,omitempty"`
}

// ManualSchedule returns the schedule that halts automatic payouts.
func ManualSchedule() PayoutSchedule {
	return PayoutSchedule{Interval: "manual"}
}

// GetPayoutSchedule reads the current payout schedule of a connected account.
func (c *Client) GetPayoutSchedule(ctx context.Context, accountID string) (PayoutSchedule, error) {
	acct, err := account.GetByID(accountID, nil)
	if err != nil {
		return PayoutSchedule{}, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}

	if acct.Settings == nil || acct.Settings.Payouts == nil || acct.Settings.Payouts.Schedule == nil {
		return PayoutSchedule{}, fmt.Errorf("account %s has no payout schedule", accountID)
	}

	sched := acct.Settings.Payouts.Schedule
	return PayoutSchedule{
		Interval:      string(sched.Interval),
		WeeklyAnchor:  sched.WeeklyAnchor,
		MonthlyAnchor: sched.MonthlyAnchor,
		DelayDays:     sched.DelayDays,
	}, nil
}

// UpdatePayoutSchedule applies a payout schedule to a connected account.
func (c *Client) UpdatePayoutSchedule(ctx context.Context, accountID string, sched PayoutSchedule) error {
	scheduleParams := &stripe.AccountSettingsPayoutsScheduleParams{
		Interval: stripe.String(sched.Interval),
	}
	if sched.WeeklyAnchor != "" {
		scheduleParams.WeeklyAnchor = stripe.String(sched.WeeklyAnchor)
	}
	if sched.MonthlyAnchor > 0 {
		scheduleParams.MonthlyAnchor = stripe.Int64(sched.MonthlyAnchor)
	}
	if sched.DelayDays > 0 {
		scheduleParams.DelayDays = stripe.Int64(sched.DelayDays)
	}

	params := &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: scheduleParams,
			},
		},
	}

	if _, err := account.Update(accountID, params); err != nil {
		return fmt.Errorf("failed to update payout schedule for account %s: %w", accountID, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"interval":   sched.Interval,
	}).Info("Updated payout schedule")

	return nil
}

// SubscriptionInfo contains extracted subscription details for database updates
type SubscriptionInfo struct {
	StripeCustomerID     string
	StripeSubscriptionID string
	Status               string // active, past_due, canceled, trialing, etc.
	PriceID              string
	Quantity             int64
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	UserID               string // From metadata
}

// ExtractSubscriptionInfo extracts relevant fields from a Stripe subscription
func (c *Client) ExtractSubscriptionInfo(sub *stripe.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		StripeCustomerID:     sub.Customer.ID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	// CurrentPeriodEnd is on SubscriptionItem in v82
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		info.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		info.Quantity = item.Quantity
		if item.Price != nil {
			info.PriceID = item.Price.ID
		}
	}

	if sub.Metadata != nil {
		info.UserID = sub.Metadata["user_id"]
	}

	return info
}
