package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PoolStats is a snapshot of the client connector: its kind, the number of
// live transports and the pool limits each transport was built with.
//
//	stats := client.PoolStats()
//	fmt.Printf("%s connector, %d pools, %d idle per host\n",
//	    stats.Connector, stats.Transports, stats.MaxIdleConnsPerHost)
type PoolStats struct {
	// Connector is "pooled", "single" or "custom".
	Connector string

	// Transports is the number of live pools, one per distinct timeout,
	// trust and proxy combination. Always 0 for single and custom
	// connectors.
	Transports int

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
}

// PoolStats returns the current connector statistics.
func (c *Client) PoolStats() PoolStats {
	switch conn := c.connector.(type) {
	case *PooledConnector:
		return poolStats("pooled", conn.Len(), conn.cfg)
	case *SingleConnector:
		return poolStats("single", 0, conn.cfg)
	default:
		return PoolStats{Connector: "custom"}
	}
}

func poolStats(kind string, transports int, cfg Config) PoolStats {
	return PoolStats{
		Connector:           kind,
		Transports:          transports,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
}

// registerPoolMetrics reports the number of pooled transports as an
// observable gauge. It returns a no-op unregister for other connectors.
func registerPoolMetrics(meter metric.Meter, connector Connector, attrs []attribute.KeyValue) (func() error, error) {
	pooled, ok := connector.(*PooledConnector)
	if !ok {
		return func() error { return nil }, nil
	}

	gauge, err := meter.Int64ObservableGauge("http.client.connector.transports",
		metric.WithDescription("Number of live pooled transports"),
		metric.WithUnit("{transport}"),
	)
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(pooled.Len()), metric.WithAttributes(attrs...))
		return nil
	}, gauge)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}
