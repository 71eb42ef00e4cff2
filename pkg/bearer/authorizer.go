// Package bearer authorizes requests carrying static bearer keys against
// group and server targets.
package bearer

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"

	"github.com/nonomal/mcphub-sub001/pkg/logger"
	"github.com/nonomal/mcphub-sub001/pkg/metrics"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

type TargetKind string

const (
	TargetGroup  TargetKind = "group"
	TargetServer TargetKind = "server"
)

// Target is a routable group or server. Groups are listed in allow-lists by
// id; Name is kept for logging and name-based routes.
type Target struct {
	Kind TargetKind
	ID   string
	Name string
}

type Decision int

const (
	// Unauthenticated means no enabled key carries the token.
	Unauthenticated Decision = iota
	Denied
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unauthenticated"
	}
}

// KeyStore lists the keys that may authenticate requests.
type KeyStore interface {
	FindEnabled(ctx context.Context) ([]types.BearerKey, error)
}

type Authorizer struct {
	keys KeyStore
	log  *zap.Logger
}

func NewAuthorizer(keys KeyStore, log *zap.Logger) *Authorizer {
	return &Authorizer{
		keys: keys,
		log:  logger.OrNop(log),
	}
}

// Authorize decides whether token may reach target. Only enabled keys whose
// token equals token exactly are considered. When several keys share the
// token, every one of them must allow the target.
func (a *Authorizer) Authorize(ctx context.Context, token string, target Target) (Decision, error) {
	if token == "" {
		return Unauthenticated, nil
	}

	matched, err := a.matching(ctx, token)
	if err != nil {
		return Unauthenticated, err
	}

	decision := Unauthenticated
	switch {
	case len(matched) == 0:
	case len(matched) > 1:
		ids := make([]string, len(matched))
		for i, key := range matched {
			ids[i] = key.ID
		}
		a.log.Warn("Several enabled bearer keys share one token", zap.Strings("key_ids", ids))
		fallthrough
	default:
		decision = Allowed
		for _, key := range matched {
			if !Permits(&key, target) {
				decision = Denied
				break
			}
		}
	}

	metrics.BearerAuth.WithLabelValues(decision.String()).Inc()
	return decision, nil
}

// Authenticate reports whether an enabled key carries token, whatever it admits.
func (a *Authorizer) Authenticate(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	matched, err := a.matching(ctx, token)
	return len(matched) > 0, err
}

func (a *Authorizer) matching(ctx context.Context, token string) ([]types.BearerKey, error) {
	keys, err := a.keys.FindEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load bearer keys: %w", err)
	}

	var matched []types.BearerKey
	for _, key := range keys {
		if key.Token != "" && subtle.ConstantTimeCompare([]byte(key.Token), []byte(token)) == 1 {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// Permits reports whether key's access type admits target.
func Permits(key *types.BearerKey, target Target) bool {
	switch key.AccessType {
	case types.AccessAll:
		return true
	case types.AccessGroups:
		return target.Kind == TargetGroup && slices.Contains(key.AllowedGroups, target.ID)
	case types.AccessServers:
		return target.Kind == TargetServer && slices.Contains(key.AllowedServers, target.ID)
	case types.AccessCustom:
		switch target.Kind {
		case TargetGroup:
			return slices.Contains(key.AllowedGroups, target.ID)
		case TargetServer:
			return slices.Contains(key.AllowedServers, target.ID)
		}
	}
	return false
}
