package proxy

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/volantir/volantir/internal/provision"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collectStatus(r))
}

// handleProvision serves the enrollment payload for one identity. The caller
// must present the identity's secret as a token; the payload echoes the
// presented token so stored hashes never leave the server.
func (s *server) handleProvision(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimPrefix(r.URL.Path, "/provision/")
	if identity == "" || strings.Contains(identity, "/") {
		http.NotFound(w, r)
		return
	}
	record, ok := s.identities[identity]
	if !ok {
		http.NotFound(w, r)
		return
	}
	token := r.URL.Query().Get("token")
	if !verifySecret(record.Secret, token) {
		s.logger.Warn("provision rejected", "identity", identity, "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	host := s.opts.publicHost
	if host == "" {
		host = hostOnly(r.Host)
	}
	port := portFromAddr(s.opts.proxyListen)
	if host == "" || port == "" {
		http.Error(w, "relay address unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, provision.Build(host, port, identity, token))
}

// handleRefreshAll triggers one bulk location refresh.
func (s *server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.poll == nil {
		http.Error(w, "poller not configured", http.StatusServiceUnavailable)
		return
	}
	updated := s.poll.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// handleRefreshUser triggers one single-user refresh and returns the raw
// location record, or starts/stops the continuous watch loop.
func (s *server) handleRefreshUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/refresh/")
	if userID == "" || strings.Contains(userID, "/") {
		http.NotFound(w, r)
		return
	}
	if s.poll == nil {
		http.Error(w, "poller not configured", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if r.URL.Query().Get("watch") == "true" {
			gen := s.poll.Select(userID)
			writeJSON(w, http.StatusOK, map[string]any{"watching": userID, "generation": gen})
			return
		}
		rec := s.poll.RefreshUser(r.Context(), userID)
		if rec == nil {
			http.Error(w, "refresh unavailable", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		s.poll.Stop()
		writeJSON(w, http.StatusOK, s.poll.StateSnapshot())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
