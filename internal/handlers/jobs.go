package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/auraa-ai/billing/pkg/config"
	"github.com/auraa-ai/billing/pkg/logging"
)

// failedInvoiceRetryWindow bounds which failure records the sweep picks
// up. Records older than this age out without an explicit state change.
const failedInvoiceRetryWindow = 30 * 24 * time.Hour

// JobManager handles background billing jobs
type JobManager struct {
	db            *sql.DB
	logger        logging.Logger
	retryEngine   *RetryEngine
	sweepInterval time.Duration
	stopCh        chan struct{}
}

// NewJobManager creates a new job manager
func NewJobManager(database *sql.DB, log logging.Logger, engine *RetryEngine) *JobManager {
	return &JobManager{
		db:            database,
		logger:        log,
		retryEngine:   engine,
		sweepInterval: config.GetEnvDuration("INVOICE_SWEEP_INTERVAL", 24*time.Hour),
		stopCh:        make(chan struct{}),
	}
}

// Start begins all background jobs
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting billing job manager")
	go jm.runFailedInvoiceSweep(ctx)
}

// Stop stops all background jobs
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping billing job manager")
	close(jm.stopCh)
}

// runFailedInvoiceSweep retries recently failed invoices on a fixed interval
func (jm *JobManager) runFailedInvoiceSweep(ctx context.Context) {
	ticker := time.NewTicker(jm.sweepInterval)
	defer ticker.Stop()

	jm.logger.WithField("interval", jm.sweepInterval.String()).Info("Starting failed invoice sweep job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			if _, err := jm.SweepFailedInvoices(ctx); err != nil {
				jm.logger.WithError(err).Error("Failed invoice sweep run failed")
			}
		}
	}
}

// SweepItem records the outcome of one invoice within a sweep.
type SweepItem struct {
	InvoiceID string        `json:"invoice_id"`
	Result    *RetryOutcome `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// SweepResult is the aggregate outcome of a sweep run.
type SweepResult struct {
	Success      bool        `json:"success"`
	RetriedCount int         `json:"retried_count"`
	Results      []SweepItem `json:"results"`
}

// SweepFailedInvoices re-examines failure records inside the trailing
// retry window and invokes the retry engine for each, serially.
// Successful retries move the record to retried_successfully; anything
// else leaves it failed with the error captured for operators.
func (jm *JobManager) SweepFailedInvoices(ctx context.Context) (*SweepResult, error) {
	rows, err := jm.db.QueryContext(ctx, `
		SELECT invoice_id, account_id, failed_at
		FROM bursar.failed_invoices
		WHERE status = 'failed'
		ORDER BY failed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch failed invoices: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		invoiceID string
		accountID string
		failedAt  time.Time
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.invoiceID, &c.accountID, &c.failedAt); err != nil {
			jm.logger.WithError(err).Error("Error scanning failed invoice row")
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failed invoices: %w", err)
	}

	result := &SweepResult{Success: true, Results: []SweepItem{}}
	for _, c := range candidates {
		if time.Since(c.failedAt) > failedInvoiceRetryWindow {
			continue
		}

		item := SweepItem{InvoiceID: c.invoiceID}
		outcome, err := jm.retryEngine.Retry(ctx, c.invoiceID, c.accountID)
		switch {
		case err != nil:
			item.Error = err.Error()
			jm.recordSweepError(ctx, c.invoiceID, err.Error())
		case outcome.Success:
			item.Result = outcome
			result.RetriedCount++
			if _, err := jm.db.ExecContext(ctx, `
				UPDATE bursar.failed_invoices
				SET status = 'retried_successfully', retried_at = NOW(), last_error = '', updated_at = NOW()
				WHERE invoice_id = $1
			`, c.invoiceID); err != nil {
				jm.logger.WithError(err).WithField("invoice_id", c.invoiceID).Error("Failed to mark invoice retried")
			}
		default:
			item.Result = outcome
			jm.recordSweepError(ctx, c.invoiceID, fmt.Sprintf("%s: needed %d, available %d", outcome.Reason, outcome.Needed, outcome.Available))
		}
		result.Results = append(result.Results, item)
	}

	jm.logger.WithFields(logging.Fields{
		"candidates":    len(result.Results),
		"retried_count": result.RetriedCount,
	}).Info("Failed invoice sweep completed")

	return result, nil
}

func (jm *JobManager) recordSweepError(ctx context.Context, invoiceID, message string) {
	if _, err := jm.db.ExecContext(ctx, `
		UPDATE bursar.failed_invoices
		SET last_error = $1, updated_at = NOW()
		WHERE invoice_id = $2
	`, message, invoiceID); err != nil {
		jm.logger.WithError(err).WithField("invoice_id", invoiceID).Error("Failed to record sweep error")
	}
}
