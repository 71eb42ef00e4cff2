// Package oauth implements the authorization server: authorization codes,
// token exchange, refresh, revocation and introspection.
package oauth

import (
	"errors"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/metrics"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

// Error is an OAuth2 protocol error. Two errors match under errors.Is when
// their codes match; ErrInvalidGrant also matches invalid_scope.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code || t.Code == CodeInvalidGrant && e.Code == CodeInvalidScope
}

// WithDescription returns a copy of e carrying description.
func (e *Error) WithDescription(description string) *Error {
	c := *e
	c.Description = description
	return &c
}

const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidScope            = "invalid_scope"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeAccessDenied            = "access_denied"
	CodeInvalidClientMetadata   = "invalid_client_metadata"
	CodeServerError             = "server_error"
)

var (
	ErrInvalidRequest          = &Error{Code: CodeInvalidRequest, Status: http.StatusBadRequest}
	ErrInvalidClient           = &Error{Code: CodeInvalidClient, Status: http.StatusUnauthorized}
	ErrInvalidGrant            = &Error{Code: CodeInvalidGrant, Status: http.StatusBadRequest}
	ErrInvalidScope            = &Error{Code: CodeInvalidScope, Status: http.StatusBadRequest}
	ErrUnauthorizedClient      = &Error{Code: CodeUnauthorizedClient, Status: http.StatusBadRequest}
	ErrUnsupportedGrantType    = &Error{Code: CodeUnsupportedGrantType, Status: http.StatusBadRequest}
	ErrUnsupportedResponseType = &Error{Code: CodeUnsupportedResponseType, Status: http.StatusBadRequest}
	ErrAccessDenied            = &Error{Code: CodeAccessDenied, Status: http.StatusForbidden}
	ErrInvalidClientMetadata   = &Error{Code: CodeInvalidClientMetadata, Status: http.StatusBadRequest}
	ErrServerError             = &Error{Code: CodeServerError, Status: http.StatusInternalServerError}
)

// AsError converts err into an OAuth error. Anything that is not already
// one becomes server_error and is logged.
func AsError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	zap.L().Error("OAuth request failed", zap.Error(err))
	return ErrServerError.WithDescription("internal error")
}

// WriteError writes err as an OAuth2 JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	oauthErr := AsError(err)
	metrics.TokenErrors.WithLabelValues(oauthErr.Code).Inc()
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	handlerutils.JSON(w, oauthErr.Status, types.OAuthError{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}
