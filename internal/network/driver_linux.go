//go:build linux

package network

import (
	"errors"
	"fmt"
	"sync"

	"github.com/safchain/ethtool"
)

// DriverInfo describes the kernel driver behind a link.
type DriverInfo struct {
	Driver    string `json:"driver"`
	Version   string `json:"version,omitempty"`
	FwVersion string `json:"firmware,omitempty"`
	BusInfo   string `json:"bus,omitempty"`
}

// ErrDriversClosed is returned by Lookup after Close.
var ErrDriversClosed = errors.New("driver lookups closed")

// Drivers looks up driver details for links through an ethtool handle.
// It is safe for concurrent use.
type Drivers struct {
	mu     sync.RWMutex
	handle *ethtool.Ethtool
}

// NewDrivers opens an ethtool handle.
func NewDrivers() (*Drivers, error) {
	h, err := ethtool.NewEthtool()
	if err != nil {
		return nil, fmt.Errorf("failed to open ethtool handle: %w", err)
	}
	return &Drivers{handle: h}, nil
}

// Close closes the ethtool handle. Closing twice is a no-op.
func (d *Drivers) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		d.handle.Close()
		d.handle = nil
	}
}

// Lookup returns driver details for the named link.
func (d *Drivers) Lookup(name string) (DriverInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.handle == nil {
		return DriverInfo{}, ErrDriversClosed
	}
	info, err := d.handle.DriverInfo(name)
	if err != nil {
		return DriverInfo{}, fmt.Errorf("ethtool driver info for %s: %w", name, err)
	}
	return DriverInfo{
		Driver:    info.Driver,
		Version:   info.Version,
		FwVersion: info.FwVersion,
		BusInfo:   info.BusInfo,
	}, nil
}
