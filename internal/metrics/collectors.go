package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"ecliptica/pkg/logger"
)

// BusinessCollector reports slow-moving business gauges straight from
// Postgres on each scrape. Failures are logged and the metric is simply
// absent from that scrape; collection must never take the app down.
type BusinessCollector struct {
	log *logger.Logger
	db  *sqlx.DB

	activeSubscriptions *prometheus.Desc
	paymentsByStatus    *prometheus.Desc
	totalProfiles       *prometheus.Desc
	freeUsageTotal      *prometheus.Desc
}

// NewBusinessCollector creates a collector backed by the main database.
func NewBusinessCollector(db *sqlx.DB) *BusinessCollector {
	return &BusinessCollector{
		log: logger.Get().With("component", "business_collector"),
		db:  db,

		activeSubscriptions: prometheus.NewDesc(
			"ecliptica_active_subscriptions",
			"Subscriptions whose paid period has not expired, by source",
			[]string{"source"}, nil,
		),
		paymentsByStatus: prometheus.NewDesc(
			"ecliptica_payments_total",
			"Payments by status",
			[]string{"status"}, nil,
		),
		totalProfiles: prometheus.NewDesc(
			"ecliptica_trader_profiles",
			"Completed trader profiles",
			nil, nil,
		),
		freeUsageTotal: prometheus.NewDesc(
			"ecliptica_free_analyses_used",
			"Free-tier analyses consumed across all users",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *BusinessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSubscriptions
	ch <- c.paymentsByStatus
	ch <- c.totalProfiles
	ch <- c.freeUsageTotal
}

// Collect implements prometheus.Collector
func (c *BusinessCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectSubscriptions(ctx, ch)
	c.collectPayments(ctx, ch)
	c.collectProfiles(ctx, ch)
	c.collectFreeUsage(ctx, ch)
}

func (c *BusinessCollector) collectSubscriptions(ctx context.Context, ch chan<- prometheus.Metric) {
	type row struct {
		Source string `db:"source"`
		Count  int    `db:"count"`
	}

	var rows []row
	err := c.db.SelectContext(ctx, &rows, `
		SELECT source, COUNT(*) as count
		FROM subscriptions
		WHERE expires_at > NOW() AND source <> ''
		GROUP BY source
	`)
	if err != nil {
		c.log.Errorw("failed to collect subscription stats", "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(
			c.activeSubscriptions,
			prometheus.GaugeValue,
			float64(r.Count),
			r.Source,
		)
	}
}

func (c *BusinessCollector) collectPayments(ctx context.Context, ch chan<- prometheus.Metric) {
	type row struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	var rows []row
	err := c.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) as count
		FROM payments
		GROUP BY status
	`)
	if err != nil {
		c.log.Errorw("failed to collect payment stats", "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(
			c.paymentsByStatus,
			prometheus.GaugeValue,
			float64(r.Count),
			r.Status,
		)
	}
}

func (c *BusinessCollector) collectProfiles(ctx context.Context, ch chan<- prometheus.Metric) {
	var count int
	err := c.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM profiles")
	if err != nil {
		c.log.Errorw("failed to collect profile count", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.totalProfiles,
		prometheus.GaugeValue,
		float64(count),
	)
}

func (c *BusinessCollector) collectFreeUsage(ctx context.Context, ch chan<- prometheus.Metric) {
	var total int
	err := c.db.GetContext(ctx, &total, "SELECT COALESCE(SUM(used_count), 0) FROM subscriptions")
	if err != nil {
		c.log.Errorw("failed to collect free usage total", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.freeUsageTotal,
		prometheus.CounterValue,
		float64(total),
	)
}

// RegisterBusinessCollector registers the collector with the default registry.
func RegisterBusinessCollector(collector *BusinessCollector) {
	prometheus.MustRegister(collector)
}
