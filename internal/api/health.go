package api

import (
	"context"
	"net/http"
	"time"

	"NeoLink-Agent/internal/web3"
)

const healthChainTimeout = 3 * time.Second

type healthResponse struct {
	Status      string               `json:"status"`
	Agent       string               `json:"agent"`
	Version     string               `json:"version"`
	Features    []string             `json:"features,omitempty"`
	Sessions    *int                 `json:"sessions,omitempty"`
	Chains      []web3.ChainSnapshot `json:"chains,omitempty"`
	ChainErrors map[string]string    `json:"chain_errors,omitempty"`
}

// handleHealth 报告服务状态。链不可达时状态为 degraded，但仍返回 200。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Agent:    "NeoLink DeFi WhatsApp Agent",
		Version:  s.version,
		Features: s.features,
	}
	if s.sessions != nil {
		n := s.sessions.Len()
		resp.Sessions = &n
	}
	if s.chains != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthChainTimeout)
		defer cancel()
		snapshots, failures := s.chains.Snapshots(ctx)
		resp.Chains = snapshots
		if len(failures) > 0 {
			resp.Status = "degraded"
			resp.ChainErrors = make(map[string]string, len(failures))
			for name, err := range failures {
				resp.ChainErrors[name] = err.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
