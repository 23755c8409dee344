package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/surebet-ledger/internal/core/domain"
	"github.com/radieske/surebet-ledger/internal/ledger-service/dto"
)

var errBadRequest = errors.New("bad request")

// statusFor traduz a taxonomia do núcleo em status HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrUnknownOutcome),
		errors.Is(err, domain.ErrPartialGrading),
		errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentMutation),
		errors.Is(err, domain.ErrSurebetNotOpen),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotVerified):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIncompleteGroupingKey),
		errors.Is(err, domain.ErrMultiLegExcluded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMissingExchangeRate):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) dto.ErrorResponse {
	body := dto.ErrorResponse{Error: err.Error()}
	var pge *domain.PartialGradingError
	if errors.As(err, &pge) {
		body.Missing, body.Invalid, body.Unknown = pge.Missing, pge.Invalid, pge.Unknown
	}
	return body
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeErrorBody(w, err, errorBody(err))
}

func (a *API) writeErrorBody(w http.ResponseWriter, err error, body dto.ErrorResponse) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.Log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}
