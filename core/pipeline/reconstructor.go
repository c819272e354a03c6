// Package pipeline wraps the reconstruction model behind a capability
// boundary: the handler only sees image in, asset out. The concrete model
// runs in a sidecar runner process and is swappable without touching handler
// logic.
package pipeline

import (
	"context"

	"sam3d-worker/core/models"
	"sam3d-worker/storage"
)

// Reconstructor turns a validated input into a 3D asset. Load is called at
// most once per process, before the first Run. Implementations do not need to
// be safe for concurrent Run calls; the handler serializes access.
type Reconstructor interface {
	Load(ctx context.Context, ckpt *storage.Checkpoint) error
	Run(ctx context.Context, input *models.ReconstructionInput) (*models.Asset, error)
	Close() error
}
