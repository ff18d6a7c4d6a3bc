package feature

import (
	"math"

	"github.com/chemprep/backend/internal/registry"
)

// Qualifiers that make the corresponding bound untrustworthy. A "greater
// than" lower bound or "less than" upper bound tells us nothing exact about
// where the measurement actually sits.
var (
	loDisallowed = map[string]bool{"~": true, "!=": true, ">": true, ">=": true}
	upDisallowed = map[string]bool{"~": true, "!=": true, "<": true, "<=": true}
)

// ReduceValue collapses a qualified measurement into a single scalar, or nil
// when no trustworthy value can be derived.
//
// A consistent bounded interval with a tolerable error bar collapses to its
// midpoint. A one-sided trustworthy bound is used as-is. Failing both, the
// error magnitude acts as a last-resort surrogate.
func ReduceValue(r registry.Result) *float64 {
	loOK := r.LoValue != nil && !loDisallowed[r.LoQualifier]
	upOK := r.UpValue != nil && !upDisallowed[r.UpQualifier]

	if loOK {
		if upOK {
			lo, up := *r.LoValue, *r.UpValue
			intervalOK := lo <= up &&
				!(r.ErrorValue != nil && *r.ErrorValue >= math.Abs(up-lo))
			if intervalOK {
				mid := (lo + up) / 2
				return &mid
			}
			// inconsistent interval or dominating error bar: fall through
		} else {
			v := *r.LoValue
			return &v
		}
	}

	if upOK {
		v := *r.UpValue
		return &v
	}
	if r.ErrorValue != nil {
		v := *r.ErrorValue
		return &v
	}
	return nil
}
