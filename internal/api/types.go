package api

import (
	"time"

	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/network"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status    string     `json:"status"`
	Provider  cloud.Kind `json:"provider"`
	Version   string     `json:"version"`
	Uptime    string     `json:"uptime"`
	Passes    uint64     `json:"passes"`
	PassID    string     `json:"pass_id,omitempty"`
	LastPass  *time.Time `json:"last_pass,omitempty"`
	Duration  string     `json:"duration,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// LinkInfo is one link as reported by GET /api/network.
type LinkInfo struct {
	network.Link
	Driver     string   `json:"driver,omitempty"`
	Addresses  []string `json:"addresses"`
	RouteTable int      `json:"route_table"`
	RuleTable  int      `json:"rule_table"`
}

// NetworkResponse is the body of GET /api/network.
type NetworkResponse struct {
	RouteTableBase int                         `json:"route_table_base"`
	Links          []LinkInfo                  `json:"links"`
	Routes         []network.Route             `json:"routes"`
	Rules          []network.RoutingPolicyRule `json:"rules"`
}
