package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/auraa-ai/billing/internal/llm"
	billingstripe "github.com/auraa-ai/billing/internal/stripe"
	"github.com/auraa-ai/billing/pkg/logging"
)

var (
	db            *sql.DB
	logger        logging.Logger
	metrics       *BursarMetrics
	stripeClient  *billingstripe.Client
	processor     ProcessorClient
	llmProvider   llm.Provider
	guard         *BalanceGuard
	retryEngine   *RetryEngine
	mirror        *SubscriptionMirror
	jobManager    *JobManager
	webhookSecret string
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	WebhookEvents            *prometheus.CounterVec
	WebhookSignatureFailures *prometheus.CounterVec
	InvoiceRetries           *prometheus.CounterVec
	AssistantTasks           *prometheus.CounterVec
	DBQueries                *prometheus.CounterVec
	DBDuration               *prometheus.HistogramVec
	DBConnections            *prometheus.GaugeVec
}

// Init initializes the handlers with database, logger, metrics, and the
// external service clients. The reconciliation components receive the
// processor through the narrow ProcessorClient interface so tests can
// substitute a fake.
func Init(database *sql.DB, log logging.Logger, bursarMetrics *BursarMetrics, client *billingstripe.Client, proc ProcessorClient, provider llm.Provider, stripeWebhookSecret string) {
	db = database
	logger = log
	metrics = bursarMetrics
	stripeClient = client
	processor = proc
	llmProvider = provider
	webhookSecret = stripeWebhookSecret
	guard = NewBalanceGuard(database, proc, log)
	retryEngine = NewRetryEngine(proc, log)
	mirror = NewSubscriptionMirror(database, log)
	jobManager = NewJobManager(database, log, retryEngine)
}

// Jobs returns the background job manager so main can start and stop it.
func Jobs() *JobManager {
	return jobManager
}
