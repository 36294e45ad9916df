package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	checkoutTotal      *prometheus.CounterVec
	saleCancelTotal    *prometheus.CounterVec
	stockMovementTotal *prometheus.CounterVec
	rfmRefreshTotal    *prometheus.CounterVec
	lowStockAlertTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers the checkout and
// ledger collectors. Safe to call more than once.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		checkoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of sale finalization attempts by outcome.",
		}, []string{"result"})
		saleCancelTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_cancel_total",
			Help:      "Count of sale cancellation attempts by outcome.",
		}, []string{"result"})
		stockMovementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Count of recorded inventory movements by type.",
		}, []string{"type"})
		rfmRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rfm_refresh_total",
			Help:      "Count of customer RFM refresh task outcomes.",
		}, []string{"result"})
		lowStockAlertTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_alerts_total",
			Help:      "Number of low-stock alerts raised.",
		})
		for _, c := range []prometheus.Collector{checkoutTotal, saleCancelTotal, stockMovementTotal, rfmRefreshTotal, lowStockAlertTotal} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	})
}

// The increment helpers are nil-safe so services can report outcomes
// without caring whether metrics were registered (tests don't).

// IncCheckout counts one finalize attempt by result label.
func IncCheckout(result string) {
	if checkoutTotal != nil {
		checkoutTotal.WithLabelValues(result).Inc()
	}
}

// IncSaleCancel counts one cancel attempt by result label.
func IncSaleCancel(result string) {
	if saleCancelTotal != nil {
		saleCancelTotal.WithLabelValues(result).Inc()
	}
}

// IncStockMovement counts one recorded movement by type.
func IncStockMovement(movementType string) {
	if stockMovementTotal != nil {
		stockMovementTotal.WithLabelValues(movementType).Inc()
	}
}

// IncRFMRefresh counts one RFM refresh task outcome.
func IncRFMRefresh(result string) {
	if rfmRefreshTotal != nil {
		rfmRefreshTotal.WithLabelValues(result).Inc()
	}
}

// IncLowStockAlert counts one raised low-stock alert.
func IncLowStockAlert() {
	if lowStockAlertTotal != nil {
		lowStockAlertTotal.Inc()
	}
}
