package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/carebook/libs/domain"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the shared error body. Errors outside the taxonomy
// are logged and reported as unknown without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		if logger != nil {
			logger.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "err", err)
		}
		de = domain.Unknown("internal error", nil)
	} else if de.Kind == domain.KindUnknown && logger != nil {
		logger.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "err", err)
	}
	WriteJSON(w, de.HTTPStatus(), de)
}

// DecodeJSON reads a single JSON object, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.Validation("body_too_large", "request body too large", nil)
		}
		return domain.Validation("invalid_json", "invalid json body", nil)
	}
	return nil
}
