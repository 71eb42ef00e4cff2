package introspect

import (
	"context"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/oauth"
	"github.com/nonomal/mcphub-sub001/pkg/types"
)

type Introspector interface {
	Introspect(ctx context.Context, clientID, clientSecret, token string) (*types.IntrospectionResponse, error)
}

type Handler struct {
	server Introspector
}

func NewHandler(server Introspector) http.Handler {
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
	resp, err := p.server.Introspect(r.Context(), clientID, clientSecret, r.PostForm.Get("token"))
	if err != nil {
		oauth.WriteError(w, err)
		return
	}
	handlerutils.JSON(w, http.StatusOK, resp)
}
