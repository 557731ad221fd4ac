// README: Field-by-field resolution of pricing config along the Spot→Location chain.
package pricing

import (
	"parkangel/internal/modules/hierarchy"
)

// requiredFields must resolve somewhere, the system default included.
var requiredFields = map[hierarchy.Field]bool{
	hierarchy.FieldBaseRate: true,
	hierarchy.FieldVATRate:  true,
}

// Resolve takes, for each field independently, the nearest node in chain
// (ordered spot first) that overrides it, falling back to defaults. It reads
// only its arguments and is safe for concurrent use.
func Resolve(chain []hierarchy.Node, defaults hierarchy.PricingConfig) (Resolved, error) {
	if err := hierarchy.CheckChain(chain); err != nil {
		return Resolved{}, err
	}
	spot := chain[0]
	out := Resolved{
		SpotID:     spot.ID,
		LocationID: chain[len(chain)-1].ID,
		Provenance: make(map[hierarchy.Field]Source, len(hierarchy.AllFields)),
	}

	var merged hierarchy.PricingConfig
	for _, f := range hierarchy.AllFields {
		found := false
		for _, n := range chain {
			if n.Config.Has(f) {
				merged.CopyField(f, n.Config)
				out.Provenance[f] = Source{NodeID: n.ID, NodeType: n.Type, Version: n.ConfigVersion}
				found = true
				break
			}
		}
		if found {
			continue
		}
		if defaults.Has(f) {
			merged.CopyField(f, &defaults)
			out.Provenance[f] = Source{NodeType: SystemDefault}
			continue
		}
		if requiredFields[f] {
			return Resolved{}, &hierarchy.ConfigurationError{
				Path:   "spots/" + string(spot.ID) + "/" + string(f),
				Reason: "no value at any level or in the system default",
			}
		}
	}

	for _, n := range chain {
		if out.OperatorID == "" && n.OperatorID != "" {
			out.OperatorID = n.OperatorID
		}
		if out.HostID == "" && n.HostID != "" {
			out.HostID = n.HostID
		}
		if out.ParkingType == "" && n.ParkingType != "" {
			out.ParkingType = n.ParkingType
		}
	}
	if out.OperatorID == "" {
		return Resolved{}, &hierarchy.ConfigurationError{Path: "spots/" + string(spot.ID) + "/operatorId", Reason: "no operator owns this subtree"}
	}
	if out.ParkingType == "" {
		return Resolved{}, &hierarchy.ConfigurationError{Path: "spots/" + string(spot.ID) + "/parkingType", Reason: "no parking type at any level"}
	}

	out.Config = ResolvedConfig{
		BaseRate:         *merged.BaseRate,
		VehicleTypeRates: merged.VehicleTypeRates,
		TimeBasedRates:   merged.TimeBasedRates,
		HolidayRates:     merged.HolidayRates,
		OccupancyCurve:   merged.OccupancyCurve,
		VATRate:          *merged.VATRate,
	}
	return out, nil
}
