package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nonomal/mcphub-sub001/pkg/encryption"
	"github.com/nonomal/mcphub-sub001/pkg/handlerutils"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

// UserStore looks up and creates hub users.
type UserStore interface {
	FindAll(ctx context.Context, id *types.Identity) ([]types.User, error)
	FindByKey(ctx context.Context, username string, id *types.Identity) (*types.User, error)
	Create(ctx context.Context, user types.User, id *types.Identity) (*types.User, error)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	User    *types.Identity `json:"user"`
}

type LoginHandler struct {
	users UserStore
	jwt   *JWTManager
}

func NewLoginHandler(users UserStore, jwt *JWTManager) http.Handler {
	return &LoginHandler{
		users: users,
		jwt:   jwt,
	}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlerutils.JSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "message": "Method not allowed"})
		return
	}

	var req LoginRequest
	if err := handlerutils.ReadJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		handlerutils.JSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Username and password are required"})
		return
	}

	user, err := h.users.FindByKey(r.Context(), req.Username, types.AdminIdentity())
	if err != nil {
		zap.L().Error("Failed to load user", zap.String("username", req.Username), zap.Error(err))
		handlerutils.JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Login failed"})
		return
	}
	if user == nil || !encryption.CheckPassword(user.Password, req.Password) {
		handlerutils.JSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
		return
	}

	identity := &types.Identity{Username: user.Username, IsAdmin: user.IsAdmin}
	token, _, err := h.jwt.Issue(identity)
	if err != nil {
		zap.L().Error("Failed to issue session token", zap.Error(err))
		handlerutils.JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Login failed"})
		return
	}

	handlerutils.JSON(w, http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		User:    identity,
	})
}

// EnsureAdmin creates the admin user when no user exists. An empty password
// is replaced by a random one, which is returned so it can be shown once.
func EnsureAdmin(ctx context.Context, users UserStore, password string) (string, error) {
	existing, err := users.FindAll(ctx, types.AdminIdentity())
	if err != nil {
		return "", fmt.Errorf("failed to list users: %w", err)
	}
	if len(existing) > 0 {
		return "", nil
	}

	if password == "" {
		password = encryption.GenerateRandomString(12)
	}
	hash, err := encryption.HashPassword(password)
	if err != nil {
		return "", err
	}
	if _, err := users.Create(ctx, types.User{Username: types.AdminPrincipal, Password: hash, IsAdmin: true}, types.AdminIdentity()); err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}
	return password, nil
}

// UserUpdater rewrites stored users.
type UserUpdater interface {
	FindAll(ctx context.Context, id *types.Identity) ([]types.User, error)
	Update(ctx context.Context, key string, patch types.UserPatch, id *types.Identity) (*types.User, error)
}

// HashPlaintextPasswords replaces passwords stored in clear text, as written
// by hand into a settings file, with their bcrypt hash.
func HashPlaintextPasswords(ctx context.Context, users UserUpdater) (int, error) {
	all, err := users.FindAll(ctx, types.AdminIdentity())
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}
	upgraded := 0
	for _, u := range all {
		if u.Password == "" || encryption.IsHashed(u.Password) {
			continue
		}
		hash, err := encryption.HashPassword(u.Password)
		if err != nil {
			return upgraded, err
		}
		if _, err := users.Update(ctx, u.Username, types.UserPatch{Password: &hash}, types.AdminIdentity()); err != nil {
			return upgraded, fmt.Errorf("failed to update user %s: %w", u.Username, err)
		}
		upgraded++
	}
	return upgraded, nil
}
