package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/cloudnet/internal/logging"
)

func writeSys(t *testing.T, root, link string, files map[string]string) {
	t.Helper()
	for name, val := range files {
		p := filepath.Join(root, link, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(val+"\n"), 0o644))
	}
}

func TestCollector_Collect(t *testing.T) {
	root := t.TempDir()
	writeSys(t, root, "eth0", map[string]string{
		"operstate":             "up",
		"statistics/rx_bytes":   "1024",
		"statistics/tx_bytes":   "2048",
		"statistics/rx_packets": "10",
		"statistics/tx_packets": "20",
		"statistics/rx_errors":  "1",
		"statistics/tx_errors":  "0",
	})

	c := NewCollector(logging.New(logging.DefaultConfig()), time.Minute, func() []string {
		return []string{"eth0", "missing0"}
	})
	c.sysRoot = root

	c.Collect()

	stats := c.InterfaceStats()
	require.Len(t, stats, 1)
	assert.True(t, stats["eth0"].LinkUp)
	assert.Equal(t, uint64(1024), stats["eth0"].RxBytes)
	assert.Equal(t, uint64(20), stats["eth0"].TxPackets)
	assert.Equal(t, float64(2048), testutil.ToFloat64(Get().InterfaceTxBytes.WithLabelValues("eth0")))
}

func TestRegistry_Recorders(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.ReconcilePasses.WithLabelValues("failure"))
	r.RecordPass(time.Second, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(r.ReconcilePasses.WithLabelValues("failure")))

	r.RecordKernelOp("route", "add", nil)
	assert.GreaterOrEqual(t, testutil.ToFloat64(r.KernelOps.WithLabelValues("route", "add", "success")), float64(1))

	r.SetManaged(3, 6, 1)
	assert.Equal(t, float64(6), testutil.ToFloat64(r.ManagedRules))
}
