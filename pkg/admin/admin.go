// Package admin serves the management API for clients, bearer keys, users,
// servers, groups and system configuration.
package admin

import (
	"errors"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/auth"
	"github.com/nonomal/mcphub-sub001/pkg/dao"
	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type Handler struct {
	daos *dao.DAOs
	auth *auth.Middleware
}

func NewHandler(daos *dao.DAOs, auth *auth.Middleware) *Handler {
	return &Handler{
		daos: daos,
		auth: auth,
	}
}

// Register mounts every admin route on mux under prefix.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	admin := func(f http.HandlerFunc) http.Handler { return h.auth.RequireAdmin(f) }
	user := func(f http.HandlerFunc) http.Handler { return h.auth.Require(f) }

	clients := &clientRoutes{dao: h.daos.Clients}
	mux.Handle("GET "+prefix+"/api/oauth/clients", admin(clients.list))
	mux.Handle("POST "+prefix+"/api/oauth/clients", admin(clients.create))
	mux.Handle("GET "+prefix+"/api/oauth/clients/{id}", admin(clients.get))
	mux.Handle("PUT "+prefix+"/api/oauth/clients/{id}", admin(clients.update))
	mux.Handle("DELETE "+prefix+"/api/oauth/clients/{id}", admin(clients.delete))

	keys := &bearerKeyRoutes{dao: h.daos.BearerKeys}
	mux.Handle("GET "+prefix+"/api/bearer-keys", admin(keys.list))
	mux.Handle("POST "+prefix+"/api/bearer-keys", admin(keys.create))
	mux.Handle("GET "+prefix+"/api/bearer-keys/{id}", admin(keys.get))
	mux.Handle("PUT "+prefix+"/api/bearer-keys/{id}", admin(keys.update))
	mux.Handle("DELETE "+prefix+"/api/bearer-keys/{id}", admin(keys.delete))

	config := &systemConfigRoutes{dao: h.daos.SystemConfig}
	mux.Handle("GET "+prefix+"/api/system-config", admin(config.get))
	mux.Handle("PUT "+prefix+"/api/system-config", admin(config.update))

	entity := func(name, key string, routes entityHandlers) {
		mux.Handle("GET "+prefix+"/api/"+name, user(routes.list))
		mux.Handle("POST "+prefix+"/api/"+name, user(routes.create))
		mux.Handle("GET "+prefix+"/api/"+name+"/{"+key+"}", user(routes.get))
		mux.Handle("PUT "+prefix+"/api/"+name+"/{"+key+"}", user(routes.update))
		mux.Handle("DELETE "+prefix+"/api/"+name+"/{"+key+"}", user(routes.delete))
	}
	entity("users", "username", newUserRoutes(h.daos.Users))
	entity("servers", "name", newServerRoutes(h.daos.Servers))
	entity("groups", "id", newGroupRoutes(h.daos.Groups))
}

// writeError maps DAO errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, types.ErrLastAdmin):
		status, message = http.StatusForbidden, "Cannot remove the last admin user"
	case errors.Is(err, types.ErrPermissionDenied):
		status, message = http.StatusForbidden, "Permission denied"
	case errors.Is(err, types.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, types.ErrAlreadyExists):
		status, message = http.StatusConflict, "Already exists"
	case errors.Is(err, types.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	default:
		zap.L().Error("Admin request failed", zap.Error(err))
	}
	handlerutils.JSON(w, status, response{Message: message})
}

func ok(w http.ResponseWriter, status int, data any) {
	handlerutils.JSON(w, status, response{Success: true, Data: data})
}

func notFound(w http.ResponseWriter) {
	handlerutils.JSON(w, http.StatusNotFound, response{Message: "Not found"})
}

func badRequest(w http.ResponseWriter, message string) {
	handlerutils.JSON(w, http.StatusBadRequest, response{Message: message})
}
