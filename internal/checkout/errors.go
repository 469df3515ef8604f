package checkout

import (
	"fmt"

	"assetlib/internal/registry"
	"assetlib/internal/services"
)

// PartialCheckinError reports a check-in whose content reached the registry
// but whose metadata commit did not. It matches services.ErrPartialCheckin
// only; the metadata failure is kept in Err so a partial check-in never
// classifies as that failure's kind.
type PartialCheckinError struct {
	SagaID     string
	Asset      string
	VersionMap registry.VersionMap
	Err        error
}

func (e *PartialCheckinError) Error() string {
	return fmt.Sprintf("%s: %s: content committed, metadata commit failed (saga %s): %v",
		services.ErrPartialCheckin, e.Asset, e.SagaID, e.Err)
}

func (e *PartialCheckinError) Unwrap() error {
	return services.ErrPartialCheckin
}
