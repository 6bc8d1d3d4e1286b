package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Envelope wraps every JSON body the gateway writes.
type Envelope struct {
	Status    string          `json:"status"` // "ok" or "error"
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *APIError       `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeBadRequest   = "bad_request"
	codeUnauthorized = "unauthorized"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeUnprocessed  = "unprocessable"
)

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, data, nil)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, nil, &APIError{Code: code, Message: message})
}

func respondJSON(w http.ResponseWriter, status int, data any, apiErr *APIError) {
	resp := Envelope{Status: "ok", Timestamp: time.Now().UTC(), Error: apiErr}
	if apiErr != nil {
		resp.Status = "error"
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			logrus.Errorf("gateway: encoding response: %v", err)
			status = http.StatusInternalServerError
			resp.Status = "error"
			resp.Error = &APIError{Code: "internal", Message: "encoding response failed"}
		} else {
			resp.Data = raw
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.Debugf("gateway: writing response: %v", err)
	}
}
