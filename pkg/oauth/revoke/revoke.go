package revoke

import (
	"context"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/oauth"
)

type Revoker interface {
	Revoke(ctx context.Context, clientID, clientSecret, token string) error
}

type Handler struct {
	server Revoker
}

func NewHandler(server Revoker) http.Handler {
	return &Handler{
		server: server,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Invalid request body"))
		return
	}

	// token_type_hint is accepted and ignored: both token values are searched.
	clientID, clientSecret := handlerutils.ClientCredentials(r)
	if err := p.server.Revoke(r.Context(), clientID, clientSecret, r.Form.Get("token")); err != nil {
		oauth.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
