package transfer

import (
	"blazefetch/internal"
)

// EffectivePartSize resolves a configured part size against the account's
// service-declared sizes: 0 means "use the recommended size", and explicit
// values are floored at the absolute minimum.
func EffectivePartSize(configured, recommended, minimum int64) int64 {
	if configured == 0 {
		return recommended
	}
	if configured < minimum {
		return minimum
	}
	return configured
}

// EffectiveCutoff resolves the size threshold that switches a transfer from
// the single-shot path to the chunked path. 0 means "cut over at one part".
func EffectiveCutoff(cutoff, partSize, recommended, minimum int64) int64 {
	if cutoff == 0 {
		return EffectivePartSize(partSize, recommended, minimum)
	}
	if cutoff < minimum {
		return minimum
	}
	return cutoff
}

// PlanParts splits [0, total) into contiguous non-overlapping parts of
// partSize bytes. Part numbers are 1-based; only the final part may be
// short. A non-positive total or part size yields no plan.
func PlanParts(total, partSize int64) []internal.PartInfo {
	if total <= 0 || partSize <= 0 {
		return nil
	}

	count := total / partSize
	if total%partSize != 0 {
		count++
	}

	parts := make([]internal.PartInfo, 0, count)
	for offset := int64(0); offset < total; offset += partSize {
		length := partSize
		if offset+length > total {
			length = total - offset
		}
		parts = append(parts, internal.PartInfo{
			Number: len(parts) + 1,
			Offset: offset,
			Length: length,
		})
	}
	return parts
}
