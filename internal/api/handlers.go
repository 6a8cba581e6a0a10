package api

import (
	"net/http"
	"time"

	"grimm.is/cloudnet/internal/brand"
	"grimm.is/cloudnet/internal/network"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.env.Status()
	resp := StatusResponse{
		Status:    "online",
		Provider:  st.Provider,
		Version:   brand.Version,
		Uptime:    s.clock.Since(s.startTime).Round(time.Second).String(),
		Passes:    st.Passes,
		LastError: st.LastError,
	}
	if st.Passes > 0 {
		started := st.LastPass.Started
		resp.PassID = st.LastPass.ID
		resp.LastPass = &started
		resp.Duration = st.LastPass.Duration.String()
	}
	if resp.LastError != "" {
		resp.Status = "degraded"
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCloudStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.env.System(); !ok {
		writeText(w, http.StatusServiceUnavailable, "PENDING")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleCloudSystem(w http.ResponseWriter, r *http.Request) {
	sys, ok := s.env.System()
	if !ok {
		WriteError(w, http.StatusNotFound, "no metadata fetched yet")
		return
	}
	WriteJSON(w, http.StatusOK, sys)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	st := s.env.Status()
	resp := NetworkResponse{
		RouteTableBase: st.TableBase,
		Links:          make([]LinkInfo, 0, len(st.Links)),
		Routes:         st.Routes,
		Rules:          st.Rules,
	}
	for _, link := range st.Links {
		info := LinkInfo{
			Link:       link,
			Addresses:  st.Addresses[link.MAC],
			RouteTable: network.RouteTable(st.TableBase, link.Index),
			RuleTable:  network.RuleTable(st.TableBase, link.Index),
		}
		if info.Addresses == nil {
			info.Addresses = []string{}
		}
		if s.drivers != nil {
			if drv, err := s.drivers(link.Name); err == nil {
				info.Driver = drv.Driver
			}
		}
		resp.Links = append(resp.Links, info)
	}
	WriteJSON(w, http.StatusOK, resp)
}
