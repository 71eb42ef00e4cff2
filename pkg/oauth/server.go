package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/logger"
	"github.com/nonomal/mcphub-sub001/pkg/metrics"
	"github.com/nonomal/mcphub-sub001/pkg/tokens"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	ResponseTypeCode = "code"

	TokenTypeBearer  = "Bearer"
	TokenTypeRefresh = "refresh_token"
)

// DefaultGrants apply to clients registered without an explicit grant list.
var DefaultGrants = []string{GrantAuthorizationCode, GrantRefreshToken}

// ClientStore resolves registered clients.
type ClientStore interface {
	FindByClientID(ctx context.Context, clientID string) (*types.OAuthClient, error)
}

type Config struct {
	AccessTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration
	CodeLifetime         time.Duration
	RequireClientSecret  bool
	RotateRefreshTokens  bool
	DefaultScopes        []string
}

// ConfigFrom derives the server settings from the service configuration,
// filling unset lifetimes with their defaults.
func ConfigFrom(cfg *types.Config) Config {
	c := Config{
		AccessTokenLifetime:  cfg.AccessTokenLifetime,
		RefreshTokenLifetime: cfg.RefreshTokenLifetime,
		CodeLifetime:         cfg.AuthorizationCodeLifetime,
		RequireClientSecret:  cfg.RequireClientSecret,
		RotateRefreshTokens:  cfg.RotateRefreshTokens,
		DefaultScopes:        cfg.AllowedScopes,
	}
	if c.AccessTokenLifetime <= 0 {
		c.AccessTokenLifetime = types.DefaultAccessTokenLifetime
	}
	if c.CodeLifetime <= 0 {
		c.CodeLifetime = types.DefaultAuthorizationCodeLifetime
	}
	if len(c.DefaultScopes) == 0 {
		c.DefaultScopes = types.DefaultScopes
	}
	return c
}

// Server runs the OAuth2 authorization-code and refresh-token flows.
type Server struct {
	clients  ClientStore
	tokens   *tokens.Manager
	codes    *CodeStore
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	generate tokens.Generator
}

type ServerOption func(*Server)

// WithServerClock replaces the time source used for code expiry.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
		s.codes.now = now
	}
}

// WithCodeGenerator replaces the authorization code generator.
func WithCodeGenerator(g tokens.Generator) ServerOption {
	return func(s *Server) {
		s.generate = g
	}
}

func NewServer(clients ClientStore, manager *tokens.Manager, cfg Config, log *zap.Logger, opts ...ServerOption) *Server {
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = types.DefaultScopes
	}
	if cfg.CodeLifetime <= 0 {
		cfg.CodeLifetime = types.DefaultAuthorizationCodeLifetime
	}
	if cfg.AccessTokenLifetime <= 0 {
		cfg.AccessTokenLifetime = types.DefaultAccessTokenLifetime
	}
	s := &Server{
		clients:  clients,
		tokens:   manager,
		codes:    NewCodeStore(),
		cfg:      cfg,
		log:      logger.OrNop(log),
		now:      time.Now,
		generate: tokens.GenerateToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Codes() *CodeStore {
	return s.codes
}

func (s *Server) Tokens() *tokens.Manager {
	return s.tokens
}

// AuthorizeRequest is a validated-on-demand authorization request on
// behalf of an authenticated user.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	ClientSecret        string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Username            string
}

// AuthorizeResult carries the issued code and where to send it.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
	State       string
	Scope       string
}

// Authorize validates req and issues an authorization code.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest.WithDescription("client_id is required")
	}
	if req.ResponseType != ResponseTypeCode {
		return nil, ErrUnsupportedResponseType.WithDescription("only the code response type is supported")
	}

	client, err := s.clients.FindByClientID(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client == nil {
		return nil, ErrInvalidClient.WithDescription("unknown client")
	}
	if req.ClientSecret != "" && !secretMatches(client, req.ClientSecret) {
		return nil, ErrInvalidClient.WithDescription("client authentication failed")
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}
	if redirectURI == "" || !slices.Contains(client.RedirectURIs, redirectURI) {
		return nil, ErrInvalidRequest.WithDescription("redirect_uri is not registered for this client")
	}
	if !grantAllowed(client, GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient.WithDescription("client may not use the authorization_code grant")
	}

	scope, err := NegotiateScope(req.Scope, s.allowedScopes(client))
	if err != nil {
		return nil, err
	}

	method := req.CodeChallengeMethod
	switch {
	case req.CodeChallenge == "" && method != "":
		return nil, ErrInvalidRequest.WithDescription("code_challenge_method given without code_challenge")
	case req.CodeChallenge != "" && method == "":
		method = PKCES256
	case method != "" && method != PKCES256 && method != PKCEPlain:
		return nil, ErrInvalidRequest.WithDescription("unsupported code_challenge_method")
	}

	if req.Username == "" {
		return nil, ErrAccessDenied.WithDescription("no authenticated user")
	}

	code := s.generate()
	s.codes.Save(types.AuthorizationCode{
		Code:                code,
		ExpiresAt:           s.now().Add(s.cfg.CodeLifetime),
		RedirectURI:         redirectURI,
		Scope:               scope,
		ClientID:            client.ClientID,
		Username:            req.Username,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
	})
	s.log.Debug("Issued authorization code", zap.String("client_id", client.ClientID), zap.String("username", req.Username))

	return &AuthorizeResult{
		Code:        code,
		RedirectURI: redirectURI,
		State:       req.State,
		Scope:       scope,
	}, nil
}

// TokenRequest is a request to the token endpoint.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	Code         string
	RedirectURI  string
	CodeVerifier string

	RefreshToken string
	Scope        string
}

// Token runs the grant named by req.GrantType.
func (s *Server) Token(ctx context.Context, req TokenRequest) (*types.TokenResponse, error) {
	switch req.GrantType {
	case GrantAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case GrantRefreshToken:
		return s.refresh(ctx, req)
	case "":
		return nil, ErrInvalidRequest.WithDescription("grant_type is required")
	default:
		return nil, ErrUnsupportedGrantType
	}
}

func (s *Server) exchangeCode(ctx context.Context, req TokenRequest) (*types.TokenResponse, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest.WithDescription("code is required")
	}
	// Consumed before any other check, client authentication included, so a
	// failed exchange still burns the code.
	code, ok := s.codes.Consume(req.Code)
	client, err := s.authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !ok || code.ClientID != client.ClientID {
		return nil, ErrInvalidGrant.WithDescription("invalid authorization code")
	}
	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		return nil, ErrInvalidGrant.WithDescription("invalid authorization code")
	}

	switch {
	case code.CodeChallenge != "":
		if !VerifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
			return nil, ErrInvalidGrant.WithDescription("invalid authorization code")
		}
	case req.CodeVerifier != "":
		return nil, ErrInvalidRequest.WithDescription("code_verifier given but no code_challenge was recorded")
	case req.RedirectURI == "":
		return nil, ErrInvalidRequest.WithDescription("redirect_uri is required")
	}

	token, err := s.tokens.Issue(ctx, tokens.IssueRequest{
		ClientID:        client.ClientID,
		Username:        code.Username,
		Scope:           code.Scope,
		AccessLifetime:  s.cfg.AccessTokenLifetime,
		IssueRefresh:    grantAllowed(client, GrantRefreshToken),
		RefreshLifetime: s.cfg.RefreshTokenLifetime,
	})
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(GrantAuthorizationCode).Inc()
	return s.response(token), nil
}

func (s *Server) refresh(ctx context.Context, req TokenRequest) (*types.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest.WithDescription("refresh_token is required")
	}
	client, err := s.authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !grantAllowed(client, GrantRefreshToken) {
		return nil, ErrUnauthorizedClient.WithDescription("client may not use the refresh_token grant")
	}

	token, err := s.tokens.Rotate(ctx, req.RefreshToken, func(existing *types.OAuthToken) (tokens.IssueRequest, error) {
		if existing.ClientID != client.ClientID {
			return tokens.IssueRequest{}, ErrInvalidGrant.WithDescription("invalid refresh token")
		}

		scope := existing.Scope
		if strings.TrimSpace(req.Scope) != "" {
			original := strings.Fields(existing.Scope)
			for _, requested := range strings.Fields(req.Scope) {
				if !slices.Contains(original, requested) {
					return tokens.IssueRequest{}, ErrInvalidScope.WithDescription("requested scope exceeds the original grant")
				}
			}
			scope = strings.Join(strings.Fields(req.Scope), " ")
		}

		issue := tokens.IssueRequest{
			ClientID:       client.ClientID,
			Username:       existing.Username,
			Scope:          scope,
			AccessLifetime: s.cfg.AccessTokenLifetime,
		}
		if s.cfg.RotateRefreshTokens {
			issue.IssueRefresh = true
			issue.RefreshLifetime = s.cfg.RefreshTokenLifetime
		} else {
			issue.RefreshToken = existing.RefreshToken
			issue.RefreshTokenExpiresAt = existing.RefreshTokenExpiresAt
		}
		return issue, nil
	})
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrInvalidGrant.WithDescription("invalid refresh token")
	}
	metrics.TokensIssued.WithLabelValues(GrantRefreshToken).Inc()
	return s.response(token), nil
}

// Revoke removes the record reachable by token. Unknown tokens and tokens
// of other clients are ignored.
func (s *Server) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	client, err := s.authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrInvalidRequest.WithDescription("token is required")
	}

	rec, err := s.tokens.Find(ctx, token)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if rec.ClientID != client.ClientID {
		s.log.Warn("Client tried to revoke a token it does not own", zap.String("client_id", client.ClientID))
		return nil
	}
	_, err = s.tokens.Revoke(ctx, token)
	return err
}

// Introspect describes token. Inactive tokens yield only {active:false}.
func (s *Server) Introspect(ctx context.Context, clientID, clientSecret, token string) (*types.IntrospectionResponse, error) {
	if _, err := s.authenticate(ctx, clientID, clientSecret); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrInvalidRequest.WithDescription("token is required")
	}

	if rec, err := s.tokens.LookupAccess(ctx, token); err != nil {
		return nil, err
	} else if rec != nil {
		return &types.IntrospectionResponse{
			Active:    true,
			Scope:     rec.Scope,
			ClientID:  rec.ClientID,
			Username:  rec.Username,
			TokenType: TokenTypeBearer,
			ExpiresAt: rec.AccessTokenExpiresAt.Unix(),
		}, nil
	}

	rec, err := s.tokens.LookupRefresh(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.RefreshToken != token {
		return &types.IntrospectionResponse{Active: false}, nil
	}
	resp := &types.IntrospectionResponse{
		Active:    true,
		Scope:     rec.Scope,
		ClientID:  rec.ClientID,
		Username:  rec.Username,
		TokenType: TokenTypeRefresh,
	}
	if rec.RefreshTokenExpiresAt != nil {
		resp.ExpiresAt = rec.RefreshTokenExpiresAt.Unix()
	}
	return resp, nil
}

// ValidateAccessToken returns the token record behind a live access token.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*types.OAuthToken, error) {
	rec, err := s.tokens.LookupAccess(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	client, err := s.clients.FindByClientID(ctx, rec.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client == nil {
		return nil, nil
	}
	return rec, nil
}

// authenticate loads the client and checks its secret. A supplied secret
// must always match; confidential clients must supply one when
// RequireClientSecret is set.
func (s *Server) authenticate(ctx context.Context, clientID, clientSecret string) (*types.OAuthClient, error) {
	if clientID == "" {
		return nil, ErrInvalidClient.WithDescription("client_id is required")
	}
	client, err := s.clients.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client == nil {
		return nil, ErrInvalidClient.WithDescription("client authentication failed")
	}
	switch {
	case clientSecret != "":
		if !secretMatches(client, clientSecret) {
			return nil, ErrInvalidClient.WithDescription("client authentication failed")
		}
	case s.cfg.RequireClientSecret && !client.IsPublic():
		return nil, ErrInvalidClient.WithDescription("client authentication failed")
	}
	return client, nil
}

func (s *Server) allowedScopes(client *types.OAuthClient) []string {
	if len(client.Scopes) > 0 {
		return client.Scopes
	}
	return s.cfg.DefaultScopes
}

func (s *Server) response(token *types.OAuthToken) *types.TokenResponse {
	return &types.TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int(token.AccessTokenExpiresAt.Sub(s.now()).Seconds()),
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
	}
}

func secretMatches(client *types.OAuthClient, secret string) bool {
	if client.ClientSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(secret)) == 1
}

func grantAllowed(client *types.OAuthClient, grant string) bool {
	if len(client.Grants) == 0 {
		return slices.Contains(DefaultGrants, grant)
	}
	return slices.Contains(client.Grants, grant)
}
