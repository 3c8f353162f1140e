package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/haasonsaas/parley/internal/apperr"
)

// envelope is the uniform response body: {success, data, error?}.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError maps the error kind to a status code. Rate and quota
// rejections carry a Retry-After header; validation details pass
// through, everything else is sanitized.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	body := &errorBody{
		Code:    apperr.CodeOf(err),
		Message: apperr.Sanitized(err),
	}

	var e *apperr.Error
	if errors.As(err, &e) {
		if kind == apperr.KindValidation {
			body.Details = e.Details
		}
		if e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
		}
	}
	writeJSON(w, apperr.HTTPStatus(kind), envelope{Success: false, Error: body})
}

// decodeBody decodes a JSON request body into dst, rejecting unknown
// fields so client typos fail loudly.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "MALFORMED_BODY", "request body is not valid JSON for this endpoint", err)
	}
	return nil
}
