//go:build !linux

package network

import "errors"

// DriverInfo describes the kernel driver behind a link.
type DriverInfo struct {
	Driver    string `json:"driver"`
	Version   string `json:"version,omitempty"`
	FwVersion string `json:"firmware,omitempty"`
	BusInfo   string `json:"bus,omitempty"`
}

// ErrDriversClosed is returned by Lookup after Close.
var ErrDriversClosed = errors.New("driver lookups closed")

// Drivers is unavailable off Linux.
type Drivers struct{}

// NewDrivers always fails off Linux.
func NewDrivers() (*Drivers, error) {
	return nil, errors.New("ethtool not supported on this platform")
}

func (d *Drivers) Close() {}

func (d *Drivers) Lookup(name string) (DriverInfo, error) {
	return DriverInfo{}, errors.New("ethtool not supported on this platform")
}
