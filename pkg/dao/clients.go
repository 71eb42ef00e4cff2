package dao

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nonomal/mcphub-sub001/pkg/types"
)

type clientDAO struct {
	mu   sync.Mutex
	repo repository[types.OAuthClient]
}

func newClientDAO(repo repository[types.OAuthClient]) *clientDAO {
	return &clientDAO{repo: repo}
}

func (d *clientDAO) FindAll(ctx context.Context) ([]types.OAuthClient, error) {
	clients, err := d.repo.list(ctx)
	if err != nil {
		return nil, err
	}
	if clients == nil {
		clients = []types.OAuthClient{}
	}
	for i := range clients {
		clients[i].Normalize()
	}
	sortByKey(clients, d.repo.keyOf)
	return clients, nil
}

func (d *clientDAO) FindByClientID(ctx context.Context, clientID string) (*types.OAuthClient, error) {
	client, err := d.repo.get(ctx, clientID)
	if err != nil || client == nil {
		return nil, err
	}
	client.Normalize()
	return client, nil
}

func (d *clientDAO) Create(ctx context.Context, client types.OAuthClient) (*types.OAuthClient, error) {
	if client.ClientID == "" {
		return nil, fmt.Errorf("%w: clientId is required", types.ErrInvalidInput)
	}
	if client.Name == "" {
		return nil, fmt.Errorf("%w: client name is required", types.ErrInvalidInput)
	}
	if len(client.RedirectURIs) == 0 {
		return nil, fmt.Errorf("%w: at least one redirect URI is required", types.ErrInvalidInput)
	}
	client.Normalize()

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.repo.insert(ctx, client); err != nil {
		return nil, err
	}
	return &client, nil
}

func (d *clientDAO) Update(ctx context.Context, clientID string, patch types.OAuthClientPatch) (*types.OAuthClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	client, err := d.repo.get(ctx, clientID)
	if err != nil || client == nil {
		return nil, err
	}
	patch.Apply(client)
	client.Normalize()
	if len(client.RedirectURIs) == 0 {
		return nil, fmt.Errorf("%w: at least one redirect URI is required", types.ErrInvalidInput)
	}

	if err := d.repo.replace(ctx, clientID, *client); errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return client, nil
}

func (d *clientDAO) Delete(ctx context.Context, clientID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.repo.remove(ctx, clientID)
}
