package register

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nonomal/mcphub-sub001/pkg/encryption"
	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/oauth"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

const maxBody = 1024 * 1024

type ClientStore interface {
	Create(ctx context.Context, client types.OAuthClient) (*types.OAuthClient, error)
}

type Handler struct {
	db ClientStore
}

func NewHandler(db ClientStore) http.Handler {
	return &Handler{
		db: db,
	}
}

// registration is the validated subset of RFC 7591 client metadata.
type registration struct {
	redirectURIs  []string
	clientName    string
	grantTypes    []string
	responseTypes []string
	scopes        []string
	authMethod    string
	extra         map[string]any
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Method not allowed"))
		return
	}
	if r.ContentLength > maxBody {
		handlerutils.JSON(w, http.StatusRequestEntityTooLarge, types.OAuthError{
			Error:            oauth.CodeInvalidRequest,
			ErrorDescription: "Request payload too large, must be under 1 MiB",
		})
		return
	}

	var clientMetadata map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&clientMetadata); err != nil {
		oauth.WriteError(w, oauth.ErrInvalidRequest.WithDescription("Invalid JSON payload"))
		return
	}

	reg, err := validateClientMetadata(clientMetadata)
	if err != nil {
		oauth.WriteError(w, oauth.ErrInvalidClientMetadata.WithDescription(err.Error()))
		return
	}

	client := types.OAuthClient{
		ClientID:     encryption.GenerateRandomString(16),
		Name:         reg.clientName,
		RedirectURIs: reg.redirectURIs,
		Grants:       reg.grantTypes,
		Scopes:       reg.scopes,
		Owner:        types.AdminPrincipal,
		Metadata:     reg.extra,
	}
	if reg.authMethod != "none" {
		client.ClientSecret = encryption.GenerateRandomString(32)
	}
	issuedAt := time.Now().Unix()
	client.Metadata["client_id_issued_at"] = issuedAt
	client.Metadata["token_endpoint_auth_method"] = reg.authMethod
	client.Metadata["response_types"] = reg.responseTypes

	stored, err := p.db.Create(r.Context(), client)
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			oauth.WriteError(w, oauth.ErrInvalidClientMetadata.WithDescription(err.Error()))
			return
		}
		zap.L().Error("Failed to store client", zap.Error(err))
		oauth.WriteError(w, oauth.ErrServerError.WithDescription("Failed to register client"))
		return
	}

	response := map[string]interface{}{
		"client_id":                  stored.ClientID,
		"client_name":                stored.Name,
		"redirect_uris":              stored.RedirectURIs,
		"grant_types":                reg.grantTypes,
		"response_types":             reg.responseTypes,
		"token_endpoint_auth_method": reg.authMethod,
		"client_id_issued_at":        issuedAt,
	}
	if len(reg.scopes) > 0 {
		response["scope"] = strings.Join(reg.scopes, " ")
	}
	if stored.ClientSecret != "" {
		response["client_secret"] = stored.ClientSecret
		response["client_secret_expires_at"] = 0
	}
	for k, v := range reg.extra {
		if _, ok := response[k]; !ok {
			response[k] = v
		}
	}

	handlerutils.JSON(w, http.StatusCreated, response)
}

func validateClientMetadata(metadata map[string]interface{}) (*registration, error) {
	validateStringField := func(name string) (string, error) {
		field := metadata[name]
		if field == nil {
			return "", nil
		}
		if str, ok := field.(string); ok {
			return str, nil
		}
		return "", fmt.Errorf("field %s must be a string", name)
	}

	validateStringArray := func(name string) ([]string, error) {
		arr := metadata[name]
		if arr == nil {
			return nil, nil
		}
		array, ok := arr.([]interface{})
		if !ok {
			return nil, fmt.Errorf("field %s must be an array", name)
		}
		result := make([]string, len(array))
		for i, item := range array {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("all elements in %s must be strings", name)
			}
			result[i] = str
		}
		return result, nil
	}

	authMethod, err := validateStringField("token_endpoint_auth_method")
	if err != nil {
		return nil, err
	}
	switch authMethod {
	case "":
		authMethod = "client_secret_basic"
	case "none", "client_secret_basic", "client_secret_post":
	default:
		return nil, fmt.Errorf("unsupported token_endpoint_auth_method %q", authMethod)
	}

	redirectURIs, err := validateStringArray("redirect_uris")
	if err != nil {
		return nil, err
	}
	if len(redirectURIs) == 0 {
		return nil, fmt.Errorf("at least one redirect URI is required")
	}

	clientName, err := validateStringField("client_name")
	if err != nil {
		return nil, err
	}
	if clientName == "" {
		clientName = "Dynamically registered client"
	}

	grantTypes, err := validateStringArray("grant_types")
	if err != nil {
		return nil, err
	}
	if len(grantTypes) == 0 {
		grantTypes = slices.Clone(oauth.DefaultGrants)
	}
	for _, grant := range grantTypes {
		if !slices.Contains(oauth.DefaultGrants, grant) {
			return nil, fmt.Errorf("unsupported grant type %q", grant)
		}
	}

	responseTypes, err := validateStringArray("response_types")
	if err != nil {
		return nil, err
	}
	if len(responseTypes) == 0 {
		responseTypes = []string{oauth.ResponseTypeCode}
	}

	scope, err := validateStringField("scope")
	if err != nil {
		return nil, err
	}

	extra := map[string]any{}
	for _, name := range []string{"logo_uri", "client_uri", "policy_uri", "tos_uri", "jwks_uri", "software_id", "software_version"} {
		value, err := validateStringField(name)
		if err != nil {
			return nil, err
		}
		if value != "" {
			extra[name] = value
		}
	}
	contacts, err := validateStringArray("contacts")
	if err != nil {
		return nil, err
	}
	// some clients check the schema and reject a null contacts list
	if contacts == nil {
		contacts = []string{}
	}
	extra["contacts"] = contacts

	return &registration{
		redirectURIs:  redirectURIs,
		clientName:    clientName,
		grantTypes:    grantTypes,
		responseTypes: responseTypes,
		scopes:        strings.Fields(scope),
		authMethod:    authMethod,
		extra:         extra,
	}, nil
}
