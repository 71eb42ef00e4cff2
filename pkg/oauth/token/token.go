package token

import (
	"context"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/oauth"
	"github.com/nonomal/mcphub-sub001/pkg/types"
)

type TokenIssuer interface {
	Token(ctx context.Context, req oauth.TokenRequest) (*types.TokenResponse, error)
}

type Handler struct {
	server TokenIssuer
}

func NewHandler(server TokenIssuer) http.Handler {
	return &Handler{
		server: server,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Method not allowed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Invalid request body"))
		return
	}

	clientID, clientSecret := handlerutils.ClientCredentials(r)
	resp, err := p.server.Token(r.Context(), oauth.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
	})
	if err != nil {
		oauth.WriteError(w, err)
		return
	}

	w.Header().Set("Pragma", "no-cache")
	handlerutils.JSON(w, http.StatusOK, resp)
}
