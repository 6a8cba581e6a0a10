package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"grimm.is/cloudnet/internal/clock"
	"grimm.is/cloudnet/internal/metrics"
)

// PassSource reports the most recent reconciliation pass.
type PassSource interface {
	LastPassInfo() (started time.Time, ran bool, err error)
}

// ReconcileCheck is healthy while the last pass succeeded and is no
// older than maxAge.
func ReconcileCheck(src PassSource, maxAge time.Duration, clk clock.Clock) CheckFunc {
	if clk == nil {
		clk = clock.Real
	}
	return func(ctx context.Context) Check {
		started, ran, err := src.LastPassInfo()
		switch {
		case !ran:
			return Check{Status: StatusDegraded, Message: "no reconciliation pass yet"}
		case err != nil:
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("last pass failed: %v", err)}
		}
		if age := clk.Since(started); age > maxAge {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("last pass %s ago (limit %s)", age.Round(time.Second), maxAge)}
		}
		return Check{Status: StatusHealthy, Message: "last pass succeeded"}
	}
}

// LinksCheck is unhealthy when the link inventory is empty.
func LinksCheck(count func() int) CheckFunc {
	return func(ctx context.Context) Check {
		n := count()
		if n == 0 {
			return Check{Status: StatusUnhealthy, Message: "no links in inventory"}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d links", n)}
	}
}

// GatewayCheck pings the gateway of every tracked route. Unreachable
// gateways degrade the report.
func GatewayCheck(gateways func() map[string]string, ping func(ip string) error) CheckFunc {
	if ping == nil {
		ping = CheckPingFunc
	}
	m := metrics.Get()
	return func(ctx context.Context) Check {
		gws := gateways()
		if len(gws) == 0 {
			return Check{Status: StatusHealthy, Message: "no routes tracked"}
		}

		links := make([]string, 0, len(gws))
		for link := range gws {
			links = append(links, link)
		}
		sort.Strings(links)

		var down []string
		for _, link := range links {
			if err := ping(gws[link]); err != nil {
				down = append(down, fmt.Sprintf("%s via %s: %v", link, gws[link], err))
				m.GatewayReachable.WithLabelValues(link).Set(0)
				continue
			}
			m.GatewayReachable.WithLabelValues(link).Set(1)
		}
		if len(down) > 0 {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("unreachable: %v", down)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d gateways reachable", len(gws))}
	}
}
