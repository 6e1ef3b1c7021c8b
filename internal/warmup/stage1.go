package warmup

import "github.com/LibreQoE/bufferbloat-core/internal/model"

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// sizeRange is an inclusive byte-size envelope used to clamp Sub-probe
// B's target size (spec.md §4.4 Stage 1 table).
type sizeRange struct{ lo, hi int64 }

// precisionTargetRange picks the clamp envelope for Sub-probe B based on
// the rough speed from Sub-probe A, per the table in spec.md §4.4. A
// bracket with no envelope for this direction falls through to the next
// bracket up.
func precisionTargetRange(dir model.Direction, roughMbps float64) sizeRange {
	switch {
	case roughMbps < 5 && dir == model.Upload:
		return sizeRange{2 * mib, 5 * mib}
	case roughMbps < 10 && dir == model.Download:
		return sizeRange{2 * mib, 5 * mib}
	case roughMbps < 25 && dir == model.Upload:
		return sizeRange{5 * mib, 15 * mib}
	case roughMbps < 100:
		if dir == model.Download {
			return sizeRange{5 * mib, 25 * mib}
		}
		return sizeRange{15 * mib, 50 * mib}
	case roughMbps < 500:
		if dir == model.Download {
			return sizeRange{25 * mib, 125 * mib}
		}
		return sizeRange{50 * mib, 150 * mib}
	case roughMbps < 1500:
		if dir == model.Download {
			return sizeRange{125 * mib, 500 * mib}
		}
		return sizeRange{150 * mib, 500 * mib}
	case dir == model.Upload:
		return sizeRange{500 * mib, gib}
	}
	// Download has no bracket at or above 1500 Mbps; it keeps the top
	// download envelope.
	return sizeRange{125 * mib, 500 * mib}
}

// pickPrecisionTarget computes Sub-probe B's target size: the byte count
// that, at the rough speed, would take ~2.5s, clamped to the tier
// envelope.
func pickPrecisionTarget(dir model.Direction, roughMbps float64) int64 {
	if roughMbps <= 0 {
		roughMbps = 1
	}
	r := precisionTargetRange(dir, roughMbps)
	wantBytes := int64(roughMbps * 1_000_000 / 8 * 2.5)
	if wantBytes < r.lo {
		wantBytes = r.lo
	}
	if wantBytes > r.hi {
		wantBytes = r.hi
	}
	return wantBytes
}

// seedPayloadSize returns Sub-probe A's fixed seed size.
func seedPayloadSize(dir model.Direction) int64 {
	if dir == model.Upload {
		return 2 * mib
	}
	return 1 * mib
}

// conservativeDefault is used when both Stage-1 sub-probes fail.
func conservativeDefault(dir model.Direction) float64 {
	if dir == model.Upload {
		return 50
	}
	return 200
}
