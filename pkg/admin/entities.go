package admin

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/nonomal/mcphub-sub001/pkg/auth"
	"github.com/nonomal/mcphub-sub001/pkg/dao"
	"github.com/nonomal/mcphub-sub001/pkg/encryption"
	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/types"
)

type entityHandlers interface {
	list(w http.ResponseWriter, r *http.Request)
	create(w http.ResponseWriter, r *http.Request)
	get(w http.ResponseWriter, r *http.Request)
	update(w http.ResponseWriter, r *http.Request)
	delete(w http.ResponseWriter, r *http.Request)
}

// entityRoutes serves identity-scoped CRUD for one entity type.
type entityRoutes[T any, P any] struct {
	dao dao.EntityDAO[T, P]
	key string
	// prepare runs on a decoded item before Create.
	prepare func(*T) error
	// preparePatch runs on a decoded patch before Update.
	preparePatch func(*P) error
	// view shapes an entity for output.
	view func(T) any
}

func (e *entityRoutes[T, P]) render(item T) any {
	if e.view == nil {
		return item
	}
	return e.view(item)
}

func (e *entityRoutes[T, P]) list(w http.ResponseWriter, r *http.Request) {
	items, err := e.dao.FindAll(r.Context(), auth.IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = e.render(item)
	}
	ok(w, http.StatusOK, out)
}

func (e *entityRoutes[T, P]) create(w http.ResponseWriter, r *http.Request) {
	var item T
	if err := handlerutils.ReadJSON(r, &item); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if e.prepare != nil {
		if err := e.prepare(&item); err != nil {
			writeError(w, err)
			return
		}
	}
	created, err := e.dao.Create(r.Context(), item, auth.IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, http.StatusCreated, e.render(*created))
}

func (e *entityRoutes[T, P]) get(w http.ResponseWriter, r *http.Request) {
	item, err := e.dao.FindByKey(r.Context(), r.PathValue(e.key), auth.IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if item == nil {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, e.render(*item))
}

func (e *entityRoutes[T, P]) update(w http.ResponseWriter, r *http.Request) {
	var patch P
	if err := handlerutils.ReadJSON(r, &patch); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if e.preparePatch != nil {
		if err := e.preparePatch(&patch); err != nil {
			writeError(w, err)
			return
		}
	}
	updated, err := e.dao.Update(r.Context(), r.PathValue(e.key), patch, auth.IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if updated == nil {
		notFound(w)
		return
	}
	ok(w, http.StatusOK, e.render(*updated))
}

func (e *entityRoutes[T, P]) delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := e.dao.Delete(r.Context(), r.PathValue(e.key), auth.IdentityFrom(r.Context()))
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

// userView omits the password hash.
type userView struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

func newUserRoutes(users dao.UserDAO) *entityRoutes[types.User, types.UserPatch] {
	return &entityRoutes[types.User, types.UserPatch]{
		dao: users,
		key: "username",
		prepare: func(u *types.User) error {
			if u.Password == "" {
				return types.ErrInvalidInput
			}
			hash, err := encryption.HashPassword(u.Password)
			if err != nil {
				return err
			}
			u.Password = hash
			return nil
		},
		preparePatch: func(p *types.UserPatch) error {
			if p.Password == nil {
				return nil
			}
			if *p.Password == "" {
				return types.ErrInvalidInput
			}
			hash, err := encryption.HashPassword(*p.Password)
			if err != nil {
				return err
			}
			p.Password = &hash
			return nil
		},
		view: func(u types.User) any {
			return userView{Username: u.Username, IsAdmin: u.IsAdmin}
		},
	}
}

func newServerRoutes(servers dao.ServerDAO) *entityRoutes[types.Server, types.ServerPatch] {
	return &entityRoutes[types.Server, types.ServerPatch]{
		dao: servers,
		key: "name",
	}
}

func newGroupRoutes(groups dao.GroupDAO) *entityRoutes[types.Group, types.GroupPatch] {
	return &entityRoutes[types.Group, types.GroupPatch]{
		dao: groups,
		key: "id",
		prepare: func(g *types.Group) error {
			if g.ID == "" {
				g.ID = uuid.NewString()
			}
			return nil
		},
	}
}
