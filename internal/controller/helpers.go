package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// kindStatus maps error kinds to HTTP statuses. Provider failures are the
// upstream's fault, so they surface as 502.
var kindStatus = map[domainErrors.Kind]int{
	domainErrors.KindValidation: http.StatusBadRequest,
	domainErrors.KindNotFound:   http.StatusNotFound,
	domainErrors.KindConflict:   http.StatusConflict,
	domainErrors.KindProvider:   http.StatusBadGateway,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := domainErrors.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: errorCode(err, kind)}

	status, ok := kindStatus[kind]
	if !ok {
		log.Error().Err(err).Msg("unhandled error in handler")
		resp.Code = "internal_error"
		resp.Error = "internal server error"
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func errorCode(err error, kind domainErrors.Kind) string {
	switch {
	case errors.Is(err, domainErrors.ErrPaymentLocked):
		return "payment_locked"
	case errors.Is(err, domainErrors.ErrProviderTimeout):
		return "provider_timeout"
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domainErrors.ErrProviderRejected):
		return "provider_rejected"
	}
	switch kind {
	case domainErrors.KindValidation:
		return "validation_error"
	case domainErrors.KindNotFound:
		return "not_found"
	case domainErrors.KindConflict:
		return "invalid_state_transition"
	case domainErrors.KindProvider:
		return "provider_error"
	}
	return "internal_error"
}

// decodeAndValidate decodes a JSON body into dst. An empty body is allowed
// when optional is true.
func decodeAndValidate(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
		}
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
