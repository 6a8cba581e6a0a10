package health

import (
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// CheckPingFunc is the probe GatewayCheck uses by default.
var CheckPingFunc = ping

func ping(ip string) error {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = 1 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}
