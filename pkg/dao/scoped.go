package dao

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nonomal/mcphub-sub001/pkg/types"
)

// policy decides what an identity may do with one entity type.
type policy[T any] struct {
	normalize func(*T)
	canRead   func(item *T, id *types.Identity) bool
	canUpdate func(item *T, id *types.Identity) bool
	canDelete func(item *T, id *types.Identity) bool
	// prepareCreate checks and completes a new item for the identity.
	prepareCreate func(item *T, id *types.Identity) error
	// checkUpdate validates a patched item against its current value.
	checkUpdate func(ctx context.Context, before, after *T, id *types.Identity) error
	// checkDelete validates a removal after canDelete passed.
	checkDelete func(ctx context.Context, item *T) error
}

// scoped applies a policy on top of a repository. Mutations are serialized
// so checks that read the whole collection stay valid until the write.
type scoped[T any, P interface{ Apply(*T) }] struct {
	mu     sync.Mutex
	repo   repository[T]
	policy policy[T]
}

func isAdmin(id *types.Identity) bool {
	return id != nil && id.IsAdmin
}

func owns(owner string, id *types.Identity) bool {
	return id != nil && id.Username != "" && owner == id.Username
}

func (s *scoped[T, P]) FindAll(ctx context.Context, id *types.Identity) ([]T, error) {
	if id == nil {
		return []T{}, nil
	}
	items, err := s.repo.list(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]T, 0, len(items))
	for i := range items {
		item := &items[i]
		s.policy.normalize(item)
		if s.policy.canRead(item, id) {
			visible = append(visible, *item)
		}
	}
	sortByKey(visible, s.repo.keyOf)
	return visible, nil
}

func (s *scoped[T, P]) FindByKey(ctx context.Context, key string, id *types.Identity) (*T, error) {
	if id == nil {
		return nil, nil
	}
	item, err := s.repo.get(ctx, key)
	if err != nil || item == nil {
		return nil, err
	}
	s.policy.normalize(item)
	if !s.policy.canRead(item, id) {
		return nil, nil
	}
	return item, nil
}

func (s *scoped[T, P]) Exists(ctx context.Context, key string, id *types.Identity) (bool, error) {
	item, err := s.FindByKey(ctx, key, id)
	return item != nil, err
}

func (s *scoped[T, P]) Create(ctx context.Context, item T, id *types.Identity) (*T, error) {
	if id == nil {
		return nil, types.ErrPermissionDenied
	}
	if err := s.policy.prepareCreate(&item, id); err != nil {
		return nil, err
	}
	s.policy.normalize(&item)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.insert(ctx, item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *scoped[T, P]) Update(ctx context.Context, key string, patch P, id *types.Identity) (*T, error) {
	if id == nil {
		return nil, types.ErrPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.get(ctx, key)
	if err != nil || current == nil {
		return nil, err
	}
	s.policy.normalize(current)
	if !s.policy.canUpdate(current, id) {
		return nil, types.ErrPermissionDenied
	}

	next := *current
	patch.Apply(&next)
	s.policy.normalize(&next)
	if s.repo.keyOf(&next) != key {
		return nil, types.ErrPermissionDenied
	}
	if s.policy.checkUpdate != nil {
		if err := s.policy.checkUpdate(ctx, current, &next, id); err != nil {
			return nil, err
		}
	}

	if err := s.repo.replace(ctx, key, next); errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *scoped[T, P]) Delete(ctx context.Context, key string, id *types.Identity) (bool, error) {
	if id == nil {
		return false, types.ErrPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.get(ctx, key)
	if err != nil || current == nil {
		return false, err
	}
	s.policy.normalize(current)
	if !s.policy.canDelete(current, id) {
		return false, types.ErrPermissionDenied
	}
	if s.policy.checkDelete != nil {
		if err := s.policy.checkDelete(ctx, current); err != nil {
			return false, err
		}
	}
	return s.repo.remove(ctx, key)
}

// claimOwnership assigns new items to non-admin creators and rejects items
// they try to create for someone else.
func claimOwnership(owner *string, id *types.Identity) error {
	if isAdmin(id) {
		return nil
	}
	if id.Username == "" {
		return types.ErrPermissionDenied
	}
	if *owner == "" {
		*owner = id.Username
	}
	if *owner != id.Username {
		return types.ErrPermissionDenied
	}
	return nil
}

func newServerDAO(repo repository[types.Server]) *scoped[types.Server, types.ServerPatch] {
	// Servers owned by the admin principal are shared: everyone may read
	// and reconfigure them, only admins may delete them.
	shared := func(s *types.Server, id *types.Identity) bool {
		return isAdmin(id) || owns(s.Owner, id) || s.Owner == types.AdminPrincipal
	}
	return &scoped[types.Server, types.ServerPatch]{
		repo: repo,
		policy: policy[types.Server]{
			normalize: (*types.Server).Normalize,
			canRead:   shared,
			canUpdate: shared,
			canDelete: func(s *types.Server, id *types.Identity) bool {
				return isAdmin(id) || owns(s.Owner, id)
			},
			prepareCreate: func(s *types.Server, id *types.Identity) error {
				if s.Name == "" {
					return fmt.Errorf("%w: server name is required", types.ErrInvalidInput)
				}
				return claimOwnership(&s.Owner, id)
			},
			checkUpdate: func(_ context.Context, before, after *types.Server, id *types.Identity) error {
				if !isAdmin(id) && before.Owner != after.Owner {
					return types.ErrPermissionDenied
				}
				return nil
			},
		},
	}
}

func newGroupDAO(repo repository[types.Group]) *scoped[types.Group, types.GroupPatch] {
	mine := func(g *types.Group, id *types.Identity) bool {
		return isAdmin(id) || owns(g.Owner, id)
	}
	return &scoped[types.Group, types.GroupPatch]{
		repo: repo,
		policy: policy[types.Group]{
			normalize: (*types.Group).Normalize,
			canRead:   mine,
			canUpdate: mine,
			canDelete: mine,
			prepareCreate: func(g *types.Group, id *types.Identity) error {
				if g.ID == "" {
					return fmt.Errorf("%w: group id is required", types.ErrInvalidInput)
				}
				return claimOwnership(&g.Owner, id)
			},
			checkUpdate: func(_ context.Context, before, after *types.Group, id *types.Identity) error {
				if !isAdmin(id) && before.Owner != after.Owner {
					return types.ErrPermissionDenied
				}
				return nil
			},
		},
	}
}

func newUserDAO(repo repository[types.User]) *scoped[types.User, types.UserPatch] {
	self := func(u *types.User, id *types.Identity) bool {
		return isAdmin(id) || owns(u.Username, id)
	}
	countAdmins := func(ctx context.Context) (int, error) {
		users, err := repo.list(ctx)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, u := range users {
			if u.IsAdmin {
				n++
			}
		}
		return n, nil
	}
	guardLastAdmin := func(ctx context.Context) error {
		n, err := countAdmins(ctx)
		if err != nil {
			return err
		}
		if n <= 1 {
			return types.ErrLastAdmin
		}
		return nil
	}

	return &scoped[types.User, types.UserPatch]{
		repo: repo,
		policy: policy[types.User]{
			normalize: (*types.User).Normalize,
			canRead:   self,
			canUpdate: self,
			canDelete: func(_ *types.User, id *types.Identity) bool {
				return isAdmin(id)
			},
			prepareCreate: func(u *types.User, id *types.Identity) error {
				if !isAdmin(id) {
					return types.ErrPermissionDenied
				}
				if u.Username == "" {
					return fmt.Errorf("%w: username is required", types.ErrInvalidInput)
				}
				return nil
			},
			checkUpdate: func(ctx context.Context, before, after *types.User, id *types.Identity) error {
				if before.IsAdmin == after.IsAdmin {
					return nil
				}
				if !isAdmin(id) {
					return types.ErrPermissionDenied
				}
				if before.IsAdmin {
					return guardLastAdmin(ctx)
				}
				return nil
			},
			checkDelete: func(ctx context.Context, u *types.User) error {
				if u.IsAdmin {
					return guardLastAdmin(ctx)
				}
				return nil
			},
		},
	}
}
