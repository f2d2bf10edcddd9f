package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CreditMetrics exposes the ledger's operational gauges and counters.
type CreditMetrics struct {
	paymentsFulfilled   *prometheus.CounterVec
	paymentsFailed      *prometheus.CounterVec
	cryptoCredited      *prometheus.CounterVec
	cryptoFailed        *prometheus.CounterVec
	reservationsDenied  prometheus.Counter
	reservationsCreated prometheus.Counter
	quotesSwept         prometheus.Counter
	approvalsExpired    prometheus.Counter
	pendingBacklog      *prometheus.GaugeVec
	gatewayErrors       *prometheus.CounterVec
}

var (
	creditOnce     sync.Once
	creditRegistry *CreditMetrics
)

// Credit returns the process-wide metrics singleton, registering the
// collectors on first use.
func Credit() *CreditMetrics {
	creditOnce.Do(func() {
		creditRegistry = &CreditMetrics{
			paymentsFulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_payments_fulfilled_total",
				Help: "Count of fulfilled top up quotes by provider.",
			}, []string{"provider"}),
			paymentsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_payments_failed_total",
				Help: "Count of failed top up quotes by reason.",
			}, []string{"reason"}),
			cryptoCredited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_crypto_credited_total",
				Help: "Count of credited on-chain payments by token type.",
			}, []string{"token"}),
			cryptoFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_crypto_failed_total",
				Help: "Count of failed on-chain payments by token type and reason.",
			}, []string{"token", "reason"}),
			reservationsDenied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "credit_reservations_denied_total",
				Help: "Count of balance reservations denied for insufficient funds.",
			}),
			reservationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "credit_reservations_created_total",
				Help: "Count of balance reservations committed.",
			}),
			quotesSwept: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "credit_quotes_swept_total",
				Help: "Count of quotes expired by the sweeper.",
			}),
			approvalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "credit_approvals_expired_total",
				Help: "Count of delegated approvals expired by the sweeper.",
			}),
			pendingBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "credit_pending_transactions",
				Help: "Pending on-chain payments awaiting confirmation by token type.",
			}, []string{"token"}),
			gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_gateway_errors_total",
				Help: "Gateway lookup failures by token type.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(
			creditRegistry.paymentsFulfilled,
			creditRegistry.paymentsFailed,
			creditRegistry.cryptoCredited,
			creditRegistry.cryptoFailed,
			creditRegistry.reservationsDenied,
			creditRegistry.reservationsCreated,
			creditRegistry.quotesSwept,
			creditRegistry.approvalsExpired,
			creditRegistry.pendingBacklog,
			creditRegistry.gatewayErrors,
		)
	})
	return creditRegistry
}

// PaymentFulfilled counts a settled quote.
func (m *CreditMetrics) PaymentFulfilled(provider string) {
	m.paymentsFulfilled.WithLabelValues(provider).Inc()
}

// PaymentFailed counts a failed quote.
func (m *CreditMetrics) PaymentFailed(reason string) {
	m.paymentsFailed.WithLabelValues(reason).Inc()
}

// CryptoCredited counts a credited on-chain payment.
func (m *CreditMetrics) CryptoCredited(token string) {
	m.cryptoCredited.WithLabelValues(token).Inc()
}

// CryptoFailed counts a terminally failed on-chain payment.
func (m *CreditMetrics) CryptoFailed(token, reason string) {
	m.cryptoFailed.WithLabelValues(token, reason).Inc()
}

// ReservationDenied counts an insufficient-balance denial.
func (m *CreditMetrics) ReservationDenied() {
	m.reservationsDenied.Inc()
}

// ReservationCreated counts a committed reservation.
func (m *CreditMetrics) ReservationCreated() {
	m.reservationsCreated.Inc()
}

// QuotesSwept counts sweeper-expired quotes.
func (m *CreditMetrics) QuotesSwept(count int) {
	m.quotesSwept.Add(float64(count))
}

// ApprovalsExpired counts sweeper-expired approvals.
func (m *CreditMetrics) ApprovalsExpired(count int) {
	m.approvalsExpired.Add(float64(count))
}

// PendingBacklog reports the pending payment backlog per token type.
func (m *CreditMetrics) PendingBacklog(token string, count int) {
	m.pendingBacklog.WithLabelValues(token).Set(float64(count))
}

// GatewayError counts a gateway lookup failure.
func (m *CreditMetrics) GatewayError(token string) {
	m.gatewayErrors.WithLabelValues(token).Inc()
}
