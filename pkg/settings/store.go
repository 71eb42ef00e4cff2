// Package settings loads and saves the hub settings document.
package settings

import (
	"context"
	"errors"

	"github.com/nonomal/mcphub-sub001/pkg/types"
)

// ErrSkipSave may be returned from an Update callback to leave the document unwritten.
var ErrSkipSave = errors.New("skip save")

// Store is the canonical holder of the settings document.
type Store interface {
	// Load returns a copy of the current document. Callers own the copy.
	Load(ctx context.Context) (*types.Settings, error)
	// Save replaces the persisted document.
	Save(ctx context.Context, doc *types.Settings) error
	// Update runs fn against the current document and saves the result.
	// No other Save or Update on the same document runs in between.
	Update(ctx context.Context, fn func(doc *types.Settings) error) error
}
