package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/cloudnet/internal/logging"
)

// InterfaceStats holds counters read from sysfs for one link.
type InterfaceStats struct {
	Name      string `json:"name"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
	LinkUp    bool   `json:"link_up"`
}

// LinkSource names the links the collector should sample.
type LinkSource func() []string

// Collector periodically samples interface counters into the registry.
type Collector struct {
	logger   *logging.Logger
	registry *Registry
	interval time.Duration
	sysRoot  string
	links    LinkSource

	mu    sync.RWMutex
	stats map[string]*InterfaceStats
	start time.Time
}

// NewCollector creates a collector sampling the given links every interval.
func NewCollector(logger *logging.Logger, interval time.Duration, links LinkSource) *Collector {
	return &Collector{
		logger:   logger.WithComponent("metrics"),
		registry: Get(),
		interval: interval,
		sysRoot:  "/sys/class/net",
		links:    links,
		stats:    make(map[string]*InterfaceStats),
		start:    time.Now(),
	}
}

// Run samples until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect takes one sample of every link.
func (c *Collector) Collect() {
	c.registry.Uptime.Set(time.Since(c.start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range c.links() {
		base := filepath.Join(c.sysRoot, name)
		if _, err := os.Stat(base); err != nil {
			c.logger.Debug("skipping link without sysfs entry", "link", name)
			continue
		}

		s, ok := c.stats[name]
		if !ok {
			s = &InterfaceStats{Name: name}
			c.stats[name] = s
		}

		stat := filepath.Join(base, "statistics")
		s.RxBytes = readSysUint64(filepath.Join(stat, "rx_bytes"))
		s.TxBytes = readSysUint64(filepath.Join(stat, "tx_bytes"))
		s.RxPackets = readSysUint64(filepath.Join(stat, "rx_packets"))
		s.TxPackets = readSysUint64(filepath.Join(stat, "tx_packets"))
		s.RxErrors = readSysUint64(filepath.Join(stat, "rx_errors"))
		s.TxErrors = readSysUint64(filepath.Join(stat, "tx_errors"))

		operstate, _ := os.ReadFile(filepath.Join(base, "operstate"))
		s.LinkUp = strings.TrimSpace(string(operstate)) == "up"

		c.registry.InterfaceRxBytes.WithLabelValues(name).Set(float64(s.RxBytes))
		c.registry.InterfaceTxBytes.WithLabelValues(name).Set(float64(s.TxBytes))
		c.registry.InterfaceRxPackets.WithLabelValues(name).Set(float64(s.RxPackets))
		c.registry.InterfaceTxPackets.WithLabelValues(name).Set(float64(s.TxPackets))
		c.registry.InterfaceErrors.WithLabelValues(name, "rx").Set(float64(s.RxErrors))
		c.registry.InterfaceErrors.WithLabelValues(name, "tx").Set(float64(s.TxErrors))
	}
}

// InterfaceStats returns a copy of the latest samples.
func (c *Collector) InterfaceStats() map[string]InterfaceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]InterfaceStats, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

func readSysUint64(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	return v
}
