package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatwire/whatsapp-gateway/internal/errors"
	"github.com/chatwire/whatsapp-gateway/sessions"
)

const contentTypeJSON = "application/json; charset=utf-8"

type connectRequest struct {
	TenantID string `json:"tenantId"`
}

type connectResponse struct {
	Status         sessions.State `json:"status"`
	PairingPayload string         `json:"pairingPayload,omitempty"`
	Message        string         `json:"message"`
}

type statusResponse struct {
	Status         sessions.State `json:"status"`
	PairingPayload string         `json:"pairingPayload,omitempty"`
	HasClient      bool           `json:"hasClient"`
}

type disconnectRequest struct {
	TenantID string `json:"tenantId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sendRequest struct {
	TenantID string `json:"tenantId"`
	To       string `json:"to"`
	Message  string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type infoResponse struct {
	Status sessions.State `json:"status"`
	Info   any            `json:"info,omitempty"`
}

type healthResponse struct {
	Status            string  `json:"status"`
	ActiveConnections int     `json:"active_connections"`
	Uptime            float64 `json:"uptime"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HealthHandler reports process status and the number of live sessions
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, healthResponse{
			Status:            "running",
			ActiveConnections: s.manager.ActiveSessions(),
			Uptime:            time.Since(s.started).Seconds(),
		})
	}
}

// ConnectHandler creates or reports the session for a tenant
func (s *Server) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
			respondError(w, http.StatusBadRequest, "tenantId is required")
			return
		}

		snap, err := s.manager.Connect(r.Context(), req.TenantID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", req.TenantID).Msg("Connect failed")
			respondError(w, http.StatusInternalServerError, "failed to initialize session")
			return
		}

		respondJSON(w, http.StatusOK, connectResponse{
			Status:         snap.State,
			PairingPayload: snap.PairingCode,
			Message:        connectMessage(snap.State),
		})
	}
}

func connectMessage(state sessions.State) string {
	switch state {
	case sessions.StateConnected:
		return "already connected"
	case sessions.StateQRPending:
		return "scan the pairing code to connect"
	case sessions.StateConnecting:
		return "session initialized, generating pairing code"
	default:
		return "session in state: " + string(state)
	}
}

// StatusHandler reports a tenant's connection state
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenantId")

		snap := s.manager.Status(tenantID)
		respondJSON(w, http.StatusOK, statusResponse{
			Status:         snap.State,
			PairingPayload: snap.PairingCode,
			HasClient:      snap.HasDriver,
		})
	}
}

// DisconnectHandler tears a tenant's session down. Teardown failures are
// logged inside the manager; the request succeeds as long as the slot is freed.
func (s *Server) DisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req disconnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
			respondError(w, http.StatusBadRequest, "tenantId is required")
			return
		}

		if err := s.manager.Disconnect(r.Context(), req.TenantID); err != nil {
			log.Error().Err(err).Str("tenant_id", req.TenantID).Msg("Disconnect failed")
			respondError(w, http.StatusInternalServerError, "failed to disconnect session")
			return
		}
		respondJSON(w, http.StatusOK, messageResponse{Message: "session disconnected"})
	}
}

// SendHandler sends a message through a tenant's connected session
func (s *Server) SendHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" || req.To == "" || req.Message == "" {
			respondError(w, http.StatusBadRequest, "tenantId, to and message are required")
			return
		}

		err := s.manager.Send(r.Context(), req.TenantID, req.To, req.Message)
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, sendResponse{Success: true, Message: "message sent"})
		case errors.Is(err, errors.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, errors.ErrNotConnected):
			respondError(w, http.StatusBadRequest, "session not connected")
		default:
			log.Error().Err(err).Str("tenant_id", req.TenantID).Msg("Send failed")
			respondError(w, http.StatusInternalServerError, "failed to send message")
		}
	}
}

// InfoHandler reports the account behind a tenant's connected session
func (s *Server) InfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenantId")

		snap, err := s.manager.Info(tenantID)
		if err != nil {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}

		resp := infoResponse{Status: snap.State}
		if snap.State == sessions.StateConnected && snap.Info != nil {
			resp.Info = snap.Info
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
