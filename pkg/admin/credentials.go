package admin

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/nonomal/mcphub-sub001/pkg/dao"
	"github.com/nonomal/mcphub-sub001/pkg/encryption"
	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/tokens"
	"github.com/nonomal/mcphub-sub001/pkg/types"
)

type clientRoutes struct {
	dao dao.OAuthClientDAO
}

// clientRequest is the create body. GenerateSecret asks for a secret when
// none is supplied; without it the client is public.
type clientRequest struct {
	types.OAuthClient
	GenerateSecret bool `json:"generateSecret"`
}

func (c *clientRoutes) list(w http.ResponseWriter, r *http.Request) {
	clients, err := c.dao.FindAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusOK, clients)
}

func (c *clientRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := handlerutils.ReadJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	client := req.OAuthClient
	if client.ClientID == "" {
		client.ClientID = encryption.GenerateRandomString(16)
	}
	if client.ClientSecret == "" && req.GenerateSecret {
		client.ClientSecret = encryption.GenerateRandomString(32)
	}

	created, err := c.dao.Create(r.Context(), client)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusCreated, created)
}

func (c *clientRoutes) get(w http.ResponseWriter, r *http.Request) {
	client, err := c.dao.FindByClientID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if client == nil {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, client)
}

func (c *clientRoutes) update(w http.ResponseWriter, r *http.Request) {
	var patch types.OAuthClientPatch
	if err := handlerutils.ReadJSON(r, &patch); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	updated, err := c.dao.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if updated == nil {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, updated)
}

func (c *clientRoutes) delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := c.dao.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, nil)
}

// bearerKeyRoutes serializes writes so the token uniqueness check and the
// write happen together.
type bearerKeyRoutes struct {
	lock sync.Mutex
	dao  dao.BearerKeyDAO
}

func (b *bearerKeyRoutes) list(w http.ResponseWriter, r *http.Request) {
	keys, err := b.dao.FindAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusOK, keys)
}

func (b *bearerKeyRoutes) create(w http.ResponseWriter, r *http.Request) {
	var key types.BearerKey
	if err := handlerutils.ReadJSON(r, &key); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	key.ID = uuid.NewString()
	if key.Token == "" {
		key.Token = tokens.GenerateToken()
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if err := b.checkUnique(r, key.Token, ""); err != nil {
		writeError(w, err)
		return
	}
	created, err := b.dao.Create(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusCreated, created)
}

func (b *bearerKeyRoutes) get(w http.ResponseWriter, r *http.Request) {
	key, err := b.dao.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if key == nil {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, key)
}

func (b *bearerKeyRoutes) update(w http.ResponseWriter, r *http.Request) {
	var patch types.BearerKeyPatch
	if err := handlerutils.ReadJSON(r, &patch); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	id := r.PathValue("id")

	b.lock.Lock()
	defer b.lock.Unlock()

	if patch.Token != nil {
		if err := b.checkUnique(r, *patch.Token, id); err != nil {
			writeError(w, err)
			return
		}
	}
	updated, err := b.dao.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if updated == nil {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, updated)
}

func (b *bearerKeyRoutes) delete(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	deleted, err := b.dao.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, nil)
}

// checkUnique fails when another key already uses token.
func (b *bearerKeyRoutes) checkUnique(r *http.Request, token, id string) error {
	existing, err := b.dao.FindByToken(r.Context(), token)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != id {
		return fmt.Errorf("bearer key token %w", types.ErrAlreadyExists)
	}
	return nil
}

type systemConfigRoutes struct {
	dao dao.SystemConfigDAO
}

func (s *systemConfigRoutes) get(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.dao.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusOK, cfg)
}

func (s *systemConfigRoutes) update(w http.ResponseWriter, r *http.Request) {
	var patch types.SystemConfigPatch
	if err := handlerutils.ReadJSON(r, &patch); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	cfg, err := s.dao.Update(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusOK, cfg)
}
