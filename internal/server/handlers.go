package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
	"github.com/go-chi/chi/v5"
)

// eventRequest is the body of the internal passthrough routes
type eventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventResponse struct {
	Delivered int `json:"delivered"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) handleGuildEvent(w http.ResponseWriter, r *http.Request) {
	guildID, err := strconv.ParseInt(chi.URLParam(r, "guildID"), 10, 64)
	if err != nil {
		s.writeError(w, errors.New(errors.ErrorTypeValidation, errors.CodeInvalidArgument, "guildID must be an integer"))
		return
	}

	req, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}

	delivered, err := s.hub.PublishGuildEvent(guildID, domain.Event(req.Type), req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, eventResponse{Delivered: delivered})
}

func (s *Server) handleUserEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}

	delivered, err := s.hub.NotifyUser(chi.URLParam(r, "username"), domain.Event(req.Type), req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, eventResponse{Delivered: delivered})
}

func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(err, errors.ErrorTypeValidation, errors.CodeInvalidArgument, "body must be {type, data}"))
		return req, false
	}
	return req, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Code:    errors.CodeInternal,
		Type:    errors.ErrorTypeInternal.String(),
		Message: "internal error",
	}

	var e *errors.Error
	if errors.As(err, &e) {
		resp.Code = e.Code
		resp.Type = e.Type.String()
		resp.Message = e.Message
	}

	if resp.Type == errors.ErrorTypeInternal.String() {
		s.logger.Error("internal request failed", "error", err)
	}

	writeJSON(w, statusFor(errors.TypeOf(err)), resp)
}

func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeValidation, errors.ErrorTypeProtocol:
		return http.StatusBadRequest
	case errors.ErrorTypeForbidden:
		return http.StatusForbidden
	case errors.ErrorTypeNotFound, errors.ErrorTypeUnknownRecipient:
		return http.StatusNotFound
	case errors.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
