package warmup

import "github.com/LibreQoE/bufferbloat-core/internal/model"

// classifyTier implements the tier boundaries of spec.md §6. Boundaries
// are inclusive of the higher tier: a rough speed exactly at a boundary
// classifies into the higher tier (upload: 10 -> medium, 100 -> fast, 300
// -> gigabit), per spec.md §8.
func classifyTier(dir model.Direction, mbps float64) model.SpeedTier {
	if dir == model.Upload {
		switch {
		case mbps < 10:
			return model.TierSlow
		case mbps < 100:
			return model.TierMedium
		case mbps < 300:
			return model.TierFast
		default:
			return model.TierGigabit
		}
	}
	switch {
	case mbps < 25:
		return model.TierSlow
	case mbps < 200:
		return model.TierMedium
	case mbps < 600:
		return model.TierFast
	case mbps < 700:
		return model.TierGigabit
	default:
		return model.TierUltragig
	}
}

// chunkCandidates returns the upload chunk-size probe set (bytes) for a
// tier, per spec.md §4.4 Stage 1.5.
func chunkCandidates(tier model.SpeedTier) []int {
	const kib = 1024
	switch tier {
	case model.TierSlow:
		return []int{64 * kib}
	case model.TierMedium:
		return []int{64 * kib, 128 * kib}
	case model.TierFast:
		return []int{64 * kib, 128 * kib, 256 * kib}
	case model.TierGigabit, model.TierUltragig:
		return []int{256 * kib, 512 * kib, 1024 * kib, 2048 * kib}
	default:
		return []int{64 * kib}
	}
}

// chunkProbeConfig returns the fixed probing configuration for the
// chunk-size probe: (streamCount=1, pendingUploads=3) except on gigabit,
// which uses (4, 8).
func chunkProbeConfig(tier model.SpeedTier) model.ConfigCandidate {
	if tier == model.TierGigabit || tier == model.TierUltragig {
		return model.ConfigCandidate{StreamCount: 4, PendingUploads: 8}
	}
	return model.ConfigCandidate{StreamCount: 1, PendingUploads: 3}
}

// candidateMatrix returns the Stage-2 parameter search candidates for a
// direction/tier, per spec.md §6. Upload's Ultragig is aliased to
// Gigabit (see DESIGN.md / SPEC_FULL.md Open Question 3) since the
// matrix has no distinct ultragig upload row.
func candidateMatrix(dir model.Direction, tier model.SpeedTier) []model.ConfigCandidate {
	if dir == model.Download {
		switch tier {
		case model.TierSlow:
			return []model.ConfigCandidate{{StreamCount: 1}, {StreamCount: 2}}
		case model.TierMedium:
			return []model.ConfigCandidate{{StreamCount: 2}, {StreamCount: 3}, {StreamCount: 4}}
		case model.TierFast:
			return []model.ConfigCandidate{{StreamCount: 3}, {StreamCount: 4}}
		case model.TierGigabit, model.TierUltragig:
			return []model.ConfigCandidate{{StreamCount: 4}}
		default:
			return []model.ConfigCandidate{{StreamCount: 1}}
		}
	}

	if tier == model.TierUltragig {
		tier = model.TierGigabit
	}
	switch tier {
	case model.TierSlow:
		return []model.ConfigCandidate{
			{StreamCount: 1, PendingUploads: 1},
			{StreamCount: 1, PendingUploads: 2},
			{StreamCount: 1, PendingUploads: 3},
			{StreamCount: 2, PendingUploads: 1},
		}
	case model.TierMedium:
		return []model.ConfigCandidate{
			{StreamCount: 1, PendingUploads: 4},
			{StreamCount: 2, PendingUploads: 2},
			{StreamCount: 2, PendingUploads: 3},
			{StreamCount: 2, PendingUploads: 4},
			{StreamCount: 3, PendingUploads: 2},
		}
	case model.TierFast:
		return []model.ConfigCandidate{
			{StreamCount: 2, PendingUploads: 6},
			{StreamCount: 3, PendingUploads: 4},
			{StreamCount: 3, PendingUploads: 6},
			{StreamCount: 4, PendingUploads: 4},
		}
	case model.TierGigabit:
		return []model.ConfigCandidate{
			{StreamCount: 8, PendingUploads: 12},
			{StreamCount: 10, PendingUploads: 10},
			{StreamCount: 12, PendingUploads: 8},
			{StreamCount: 8, PendingUploads: 16},
			{StreamCount: 10, PendingUploads: 12},
			{StreamCount: 12, PendingUploads: 10},
			{StreamCount: 16, PendingUploads: 8},
			{StreamCount: 14, PendingUploads: 10},
		}
	default:
		return []model.ConfigCandidate{{StreamCount: 1, PendingUploads: 1}}
	}
}

// trialCap returns the tier-dependent Stage-2 trial-count ceiling.
func trialCap(tier model.SpeedTier) int {
	switch tier {
	case model.TierSlow:
		return 3
	case model.TierMedium:
		return 4
	case model.TierFast:
		return 6
	default:
		return 8
	}
}

// tierDefault returns the fallback configuration used when Stage 2
// produces no acceptable candidate.
func tierDefault(dir model.Direction, tier model.SpeedTier, estimatedMbps float64) model.ConfigCandidate {
	if dir == model.Download {
		switch tier {
		case model.TierSlow:
			return model.ConfigCandidate{StreamCount: 1}
		case model.TierMedium:
			return model.ConfigCandidate{StreamCount: 2}
		case model.TierFast:
			return model.ConfigCandidate{StreamCount: 3}
		default:
			return model.ConfigCandidate{StreamCount: 4}
		}
	}
	if tier == model.TierUltragig {
		tier = model.TierGigabit
	}
	if tier == model.TierGigabit && estimatedMbps >= 600 {
		return model.ConfigCandidate{StreamCount: 16, PendingUploads: 8}
	}
	switch tier {
	case model.TierSlow:
		return model.ConfigCandidate{StreamCount: 1, PendingUploads: 1}
	case model.TierMedium:
		return model.ConfigCandidate{StreamCount: 2, PendingUploads: 2}
	case model.TierFast:
		return model.ConfigCandidate{StreamCount: 3, PendingUploads: 4}
	default:
		return model.ConfigCandidate{StreamCount: 10, PendingUploads: 10}
	}
}
