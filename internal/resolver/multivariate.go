package resolver

import (
	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/hashring"
)

// multivariateValue selects the weighted value for a multivariate feature
// state deterministically per identity.
//
// Allocations come from the state's explicit per-state values when present,
// otherwise from the options' defaults. The identity's position in [0,100)
// is derived from the hash ring over [featureID, identityID]; the ordered
// options are walked accumulating allocation bands and the first option
// whose cumulative upper bound exceeds the position wins. When the position
// falls past every band (allocations summing below 100, or rounding), the
// control value on the state stands.
func multivariateValue(fs *domain.FeatureState, identityID string) domain.Value {
	type band struct {
		value      domain.Value
		allocation float64
	}

	var bands []band
	if len(fs.MultivariateValues) > 0 {
		for _, mv := range fs.MultivariateValues {
			bands = append(bands, band{value: mv.Option.Value, allocation: mv.PercentageAllocation})
		}
	} else {
		for _, opt := range fs.Feature.Options {
			bands = append(bands, band{value: opt.Value, allocation: opt.DefaultPercentageAllocation})
		}
	}

	if len(bands) == 0 {
		return fs.Value
	}

	position := hashring.PercentageValue(featureContextIDs(fs.Feature.ID, identityID)) * 100

	var cumulative float64
	for _, b := range bands {
		cumulative += b.allocation
		if position < cumulative {
			return b.value
		}
	}

	return fs.Value
}
