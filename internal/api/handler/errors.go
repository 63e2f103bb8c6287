package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/agoradebate/agora/internal/api/response"
	"github.com/agoradebate/agora/internal/domain"
)

var validate = validator.New()

// writeDomainError maps the domain error kinds onto HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	var throttled *domain.ThrottledError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		response.Conflict(w, err.Error())
	case errors.As(err, &throttled):
		response.TooManyRequests(w, throttled.RetryAfter, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		response.BadGateway(w, err.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
