package siit

import "fmt"

// HairpinMode selects how EAM hairpinning is detected (spec.md §4.1,
// configuration surface in spec.md §6).
type HairpinMode uint8

const (
	HairpinOff HairpinMode = iota
	HairpinSimple
	HairpinIntrinsic
)

var hairpinModeNames = [...]string{"off", "simple", "intrinsic"}

// String returns the configuration-surface spelling of m.
func (m HairpinMode) String() string {
	if int(m) < len(hairpinModeNames) {
		return hairpinModeNames[m]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(m))
}

// HairpinCheck carries the facts IsHairpin needs about a translated
// packet's destination to apply the intrinsic-mode rule.
type HairpinCheck struct {
	// ViaPool6 reports whether the address was produced by RFC 6052
	// pool6 extraction rather than an EAM entry.
	ViaPool6 bool

	// FallsInEAM reports whether re-resolving the same address through
	// the EAM table (in the opposite direction) succeeds.
	FallsInEAM bool
}

// IsHairpin reports whether a translated packet should be looped back
// into the pipeline instead of forwarded, per spec.md §4.1:
//
//   - HairpinOff: never.
//   - HairpinSimple: every translated packet that re-enters is rerun
//     (the caller determines "re-enters" from routing; this just says
//     hairpin detection is unconditional in this mode).
//   - HairpinIntrinsic: only for a non-error packet whose destination
//     was produced via pool6 and whose translated destination falls
//     inside an EAM entry.
func (t *Translator) IsHairpin(outerIsError bool, check HairpinCheck) bool {
	switch t.HairpinMode {
	case HairpinSimple:
		return true
	case HairpinIntrinsic:
		return !outerIsError && check.ViaPool6 && check.FallsInEAM
	default:
		return false
	}
}
