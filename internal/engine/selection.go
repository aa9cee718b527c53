package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SelectRepresentatives picks which committed samples are sent for an
// eligible event. With two or fewer samples all are taken; otherwise the
// first maximum-confidence sample and its immediate neighbours are taken.
// The result is ascending by arrival order and truncated to limit entries.
// peak is the index of the maximum-confidence sample, or -1 for no samples.
func SelectRepresentatives(confidences []float64, limit int) (selected []int, peak int) {
	if len(confidences) == 0 {
		return nil, -1
	}

	peak = 0
	for i, c := range confidences {
		if c > confidences[peak] {
			peak = i
		}
	}

	if len(confidences) <= 2 {
		for i := range confidences {
			selected = append(selected, i)
		}
	} else {
		selected = append(selected, peak)
		if peak > 0 {
			selected = append(selected, peak-1)
		}
		if peak < len(confidences)-1 {
			selected = append(selected, peak+1)
		}
	}

	slices.Sort(selected)
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, peak
}

// stageName labels a selected sample relative to the peak.
func stageName(idx, peak, selectedCount int) string {
	if selectedCount <= 2 {
		if idx == peak {
			return "Best capture"
		}
		return "Extra capture"
	}
	switch {
	case idx < peak:
		return "Before peak"
	case idx == peak:
		return "Peak"
	default:
		return "After peak"
	}
}

// Caption renders the photo caption sent with each selected sample.
func Caption(label string, ts time.Time, confidence float64, stage string, rank, total int, audible bool) string {
	icon := "🔇"
	if audible {
		icon = "🔊"
	}
	conf := strings.Replace(fmt.Sprintf("%.2f", confidence), ".", ",", 1)
	return fmt.Sprintf("%s %s %s - confidence: %s\nStage: %s - Rank %d/%d\n",
		icon, label, ts.Format("02-01-2006"), conf, stage, rank, total)
}

// FrameName builds the on-disk name for a frame: prefix, timestamp and
// confidence, plus an optional suffix such as "_history".
func FrameName(prefix string, ts time.Time, confidence float64, suffix string) string {
	stamp := strings.Replace(ts.Format("20060102_150405.000"), ".", "_", 1)
	return fmt.Sprintf("%s_%s_conf%.2f%s.jpg", prefix, stamp, confidence, suffix)
}
