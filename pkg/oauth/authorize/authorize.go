package authorize

import (
	"context"
	"net/http"
	"net/url"

	"github.com/nonomal/mcphub-sub001/pkg/auth"
	"github.com/nonomal/mcphub-sub001/pkg/oauth"
)

type Authorizer interface {
	Authorize(ctx context.Context, req oauth.AuthorizeRequest) (*oauth.AuthorizeResult, error)
}

type Handler struct {
	server Authorizer
}

func NewHandler(server Authorizer) http.Handler {
	return &Handler{
		server: server,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params url.Values
	if r.Method == http.MethodGet {
		params = r.URL.Query()
	} else {
		if err := r.ParseForm(); err != nil {
			oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Failed to parse form data"))
			return
		}
		params = r.Form
	}

	req := oauth.AuthorizeRequest{
		ResponseType:        params.Get("response_type"),
		ClientID:            params.Get("client_id"),
		ClientSecret:        params.Get("client_secret"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}
	if id := auth.IdentityFrom(r.Context()); id != nil {
		req.Username = id.Username
	}

	res, err := p.server.Authorize(r.Context(), req)
	if err != nil {
		oauth.WriteError(w, err)
		return
	}

	target, err := url.Parse(res.RedirectURI)
	if err != nil {
		oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Invalid redirect URI"))
		return
	}
	q := target.Query()
	q.Set("code", res.Code)
	if res.State != "" {
		q.Set("state", res.State)
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}
