package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
)

// writeJSON writes data as a JSON response body, encoding to a buffer
// first so an encode failure can still produce an error response instead
// of a half-written body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, `{"detail":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// errorBody is the {detail} shape every error response carries (spec
// §6.1).
type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps a component error onto the spec §7 status table.
// Unknown errors (not *netwallerr.Error) become internal/500.
func writeError(w http.ResponseWriter, err error) {
	var nerr *netwallerr.Error
	if !errors.As(err, &nerr) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: err.Error()})
		return
	}
	writeJSON(w, statusFor(nerr.Kind), errorBody{Detail: nerr.Message})
}

func statusFor(kind netwallerr.Kind) int {
	switch kind {
	case netwallerr.KindValidation, netwallerr.KindParseError:
		return http.StatusBadRequest
	case netwallerr.KindNotFound:
		return http.StatusNotFound
	case netwallerr.KindBusy, netwallerr.KindConflict:
		return http.StatusConflict
	case netwallerr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func ok(w http.ResponseWriter, data interface{}) { writeJSON(w, http.StatusOK, data) }

// decodeJSON decodes the request body into v, mapping a malformed body
// onto the spec §7 validation_error/400 bucket.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return netwallerr.Validation("body", "malformed JSON: "+err.Error())
	}
	return nil
}
