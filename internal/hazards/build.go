package hazards

import (
	"errors"

	"github.com/router-for-me/hazardguard/internal/guard"
)

// Build registers defs in order into a new registry. A later definition
// with an existing name replaces the earlier one in place. All invalid
// definitions are reported together.
func Build(defs []Definition, clientKey guard.ClientKeyFunc) (*guard.Registry, error) {
	registry := guard.NewRegistry()
	var errs []error
	for _, def := range defs {
		hazard, errHazard := def.Hazard(clientKey)
		if errHazard != nil {
			errs = append(errs, errHazard)
			continue
		}
		if errRegister := registry.Register(hazard); errRegister != nil {
			errs = append(errs, errRegister)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return registry, nil
}
