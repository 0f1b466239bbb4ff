package marketmetrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Gauges are point-in-time marketplace totals read from the database.
type Gauges struct {
	registry          *prometheus.Registry
	customers         prometheus.Gauge
	tokensOutstanding prometheus.Gauge
	orders            *prometheus.GaugeVec
}

// NewGauges registers the marketplace gauges on a private registry that only
// the pusher gathers.
func NewGauges() *Gauges {
	g := &Gauges{
		registry: prometheus.NewRegistry(),
		customers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stitchery_customers_total",
			Help: "Activated customers.",
		}),
		tokensOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stitchery_tokens_outstanding",
			Help: "Sum of all token account balances.",
		}),
		orders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stitchery_orders",
			Help: "Orders by status.",
		}, []string{"status"}),
	}
	g.registry.MustRegister(g.customers, g.tokensOutstanding, g.orders)
	return g
}

func (g *Gauges) Registry() *prometheus.Registry {
	return g.registry
}

type statusCount struct {
	Status string
	Count  int64
}

// Refresh reloads every gauge from db.
func (g *Gauges) Refresh(ctx context.Context, db *gorm.DB) error {
	if g == nil || db == nil {
		return errors.New("marketmetrics: gauges and db are required")
	}
	conn := db.WithContext(ctx)

	var customers int64
	if err := conn.Raw(`SELECT COUNT(*) FROM customers`).Scan(&customers).Error; err != nil {
		return err
	}
	var outstanding int64
	if err := conn.Raw(`SELECT COALESCE(SUM(balance), 0) FROM token_accounts`).Scan(&outstanding).Error; err != nil {
		return err
	}
	var rows []statusCount
	if err := conn.Raw(`SELECT status, COUNT(*) AS count FROM orders GROUP BY status`).Scan(&rows).Error; err != nil {
		return err
	}

	g.customers.Set(float64(customers))
	g.tokensOutstanding.Set(float64(outstanding))
	g.orders.Reset()
	for _, row := range rows {
		g.orders.WithLabelValues(row.Status).Set(float64(row.Count))
	}
	return nil
}
