package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"

	"slot-booking/internal/status"
)

// apiError translates a typed service error into the matching HTTP
// answer. Conflicts keep their machine code so clients can branch on
// slot_full vs amount_exceeded without parsing messages.
func apiError(err error) error {
	var e *status.Error
	if !errors.As(err, &e) {
		return apis.NewInternalServerError("internal error", err)
	}

	switch e.Kind {
	case status.KindValidation:
		return apis.NewBadRequestError(e.Message, nil)
	case status.KindNotFound:
		return apis.NewNotFoundError(e.Message, nil)
	case status.KindConflict:
		return apis.NewApiError(http.StatusConflict, e.Message, map[string]any{"code": e.Code})
	case status.KindTransient:
		return apis.NewApiError(http.StatusServiceUnavailable, e.Message, map[string]any{"code": e.Code})
	case status.KindGateway:
		return apis.NewApiError(http.StatusBadGateway, e.Message, map[string]any{"code": e.Code})
	}
	return apis.NewInternalServerError("internal error", err)
}
