package api

import (
	"errors"
	"image"
	"log/slog"
	"net/http"

	"offramp_go/internal/domain"
)

type errorBody struct {
	Code   string                   `json:"code"`
	Error  string                   `json:"error"`
	Issues []domain.ValidationIssue `json:"issues,omitempty"`
}

// classify maps a service error to a status code and a stable error code.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var (
		ve  *domain.ValidationError
		ite *domain.InvalidTransitionError
		vfe *domain.VerificationError
		se  *domain.SubmissionError
		ua  *domain.UnsupportedAssetError
	)
	switch {
	case errors.As(err, &ve):
		body.Code, body.Issues = "validation_failed", ve.Issues
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrOrderNotFound):
		body.Code = "order_not_found"
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrAccountNotFound):
		body.Code = "account_not_found"
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrOrderExpired):
		body.Code = "order_expired"
		return http.StatusGone, body
	case errors.As(err, &ite):
		body.Code = "invalid_transition"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrWrongStep), errors.Is(err, domain.ErrNotReady):
		body.Code = "wrong_step"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrRateLimited):
		body.Code = "rate_limited"
		return http.StatusTooManyRequests, body
	case errors.Is(err, domain.ErrUnknownBank), errors.Is(err, domain.ErrInvalidAccountNumber):
		body.Code = "invalid_account"
		return http.StatusBadRequest, body
	case errors.As(err, &vfe):
		body.Code = "verification_failed"
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrSigningCancelled):
		body.Code = "signing_cancelled"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrWalletNotConnected):
		body.Code = "wallet_not_connected"
		return http.StatusPreconditionFailed, body
	case errors.As(err, &se):
		body.Code = "submission_failed"
		return http.StatusBadGateway, body
	case errors.Is(err, domain.ErrSigningFailed):
		body.Code = "signing_failed"
		return http.StatusBadGateway, body
	case errors.As(err, &ua):
		body.Code = "unsupported_asset"
		return http.StatusBadRequest, body
	}
	body.Code = "internal"
	body.Error = "internal error"
	return http.StatusInternalServerError, body
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, body)
}

func (s *Server) logo(bankCode string) image.Image {
	if s.svc.Logos == nil || bankCode == "" {
		return nil
	}
	return s.svc.Logos.Load(bankCode)
}
