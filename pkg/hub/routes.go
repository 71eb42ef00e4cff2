package hub

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/nonomal/mcphub-sub001/pkg/auth"
	"github.com/nonomal/mcphub-sub001/pkg/bearer"
	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/metrics"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/authorize"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/introspect"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/register"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/revoke"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/token"
	"github.com/nonomal/mcphub-sub001/pkg/oauth/validate"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

const resourceName = "MCP Hub"

// SetupRoutes registers every endpoint on mux. connector serves requests to
// /mcp/{target} once they pass bearer or OAuth authorization; nil installs a
// handler that describes the resolved target.
func (h *Hub) SetupRoutes(mux *http.ServeMux, connector http.Handler) {
	if connector == nil {
		connector = http.HandlerFunc(describeTarget)
	}
	prefix := h.config.RoutePrefix
	tokenValidator := validate.NewTokenValidator(h.oauth)

	mux.HandleFunc("GET "+prefix+"/health", h.healthHandler)
	mux.Handle("GET "+prefix+"/metrics", metrics.Handler())

	// Metadata endpoints
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.oauthMetadataHandler)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.protectedResourceMetadataHandler)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource/{path...}", h.protectedResourceMetadataHandler)

	// OAuth endpoints
	authorizeHandler := h.withRateLimit(h.auth.Require(authorize.NewHandler(h.oauth)))
	mux.Handle("GET "+prefix+"/oauth/authorize", authorizeHandler)
	mux.Handle("POST "+prefix+"/oauth/authorize", authorizeHandler)
	mux.Handle("POST "+prefix+"/oauth/token", h.withRateLimit(token.NewHandler(h.oauth)))
	mux.Handle("POST "+prefix+"/oauth/revoke", h.withRateLimit(revoke.NewHandler(h.oauth)))
	mux.Handle("POST "+prefix+"/oauth/introspect", h.withRateLimit(introspect.NewHandler(h.oauth)))
	if h.config.AllowDynamicRegistration {
		mux.Handle("POST "+prefix+"/oauth/register", h.withRateLimit(register.NewHandler(h.daos.Clients)))
	}
	mux.Handle("GET "+prefix+"/oauth/userinfo", tokenValidator.WithTokenValidation(http.HandlerFunc(userinfoHandler)))

	// Session and management API
	mux.Handle("POST "+prefix+"/api/auth/login", h.withRateLimit(auth.NewLoginHandler(h.daos.Users, h.sessions)))
	h.admin.Register(mux, prefix)

	// Connector traffic
	protected := h.bearer.Protect(connector)
	mux.Handle(prefix+"/mcp/{target}", protected)
	mux.Handle(prefix+"/mcp/{target}/{path...}", protected)
}

// GetHandler returns the hub's HTTP handler with CORS, metrics, panic
// recovery and access logging applied.
func (h *Hub) GetHandler(connector http.Handler) http.Handler {
	mux := http.NewServeMux()
	h.SetupRoutes(mux, connector)

	accessLog := zap.NewStdLog(h.log.Named("http"))
	var handler http.Handler = withCORS(mux)
	handler = metrics.Instrument(handler)
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(accessLog), handlers.PrintRecoveryStack(true))(handler)
	return handlers.LoggingHandler(accessLog.Writer(), handler)
}

// withCORS wraps a handler with CORS headers
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, mcp-protocol-version, mcp-session-id, "+auth.TokenHeader)
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, WWW-Authenticate, mcp-session-id")
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit wraps a handler with rate limiting
func (h *Hub) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.rateLimiter.Allow(handlerutils.GetClientIP(r)) {
			handlerutils.JSON(w, http.StatusTooManyRequests, types.OAuthError{
				Error:            "too_many_requests",
				ErrorDescription: "Rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Hub) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Hub) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r) + h.config.RoutePrefix

	metadata := *h.metadata
	metadata.Issuer = baseURL
	metadata.AuthorizationEndpoint = baseURL + "/oauth/authorize"
	metadata.TokenEndpoint = baseURL + "/oauth/token"
	metadata.RevocationEndpoint = baseURL + "/oauth/revoke"
	metadata.IntrospectionEndpoint = baseURL + "/oauth/introspect"
	metadata.UserinfoEndpoint = baseURL + "/oauth/userinfo"
	if h.config.AllowDynamicRegistration {
		metadata.RegistrationEndpoint = baseURL + "/oauth/register"
	}

	handlerutils.JSON(w, http.StatusOK, metadata)
}

func (h *Hub) protectedResourceMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r) + h.config.RoutePrefix

	resource := baseURL
	if path := r.PathValue("path"); path != "" {
		resource = baseURL + "/" + strings.TrimPrefix(path, "/")
	}

	handlerutils.JSON(w, http.StatusOK, types.OAuthProtectedResourceMetadata{
		Resource:             resource,
		AuthorizationServers: []string{baseURL},
		Scopes:               h.metadata.ScopesSupported,
		BearerMethods:        []string{"header"},
		ResourceName:         resourceName,
	})
}

func userinfoHandler(w http.ResponseWriter, r *http.Request) {
	tokenInfo := validate.GetTokenInfo(r)
	handlerutils.JSON(w, http.StatusOK, map[string]any{
		"sub":       tokenInfo.Username,
		"username":  tokenInfo.Username,
		"client_id": tokenInfo.ClientID,
		"scope":     tokenInfo.Scope,
	})
}

// describeTarget answers connector traffic when no connector is installed.
func describeTarget(w http.ResponseWriter, r *http.Request) {
	target, _ := bearer.TargetFrom(r.Context())
	body := map[string]any{
		"kind": target.Kind,
		"id":   target.ID,
		"name": target.Name,
		"path": r.PathValue("path"),
	}
	if tokenInfo := validate.GetTokenInfo(r); tokenInfo != nil {
		body["username"] = tokenInfo.Username
		body["clientId"] = tokenInfo.ClientID
	}
	handlerutils.JSON(w, http.StatusOK, body)
}
