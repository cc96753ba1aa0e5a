// Package anchor keeps inline comments attached to the right script text.
// Comments store a verbatim snapshot of the text they were anchored to;
// after concurrent edits move that text, the recovery functions here locate
// it again and classify how trustworthy the new position is.
package anchor

import (
	"time"
	"unicode"
)

// Status classifies the outcome of a recovery attempt. Never an error: drift
// is a data-quality signal for the presentation layer, not a failure.
type Status string

const (
	// StatusRelocated means the anchored text was found (exact or
	// case-insensitive) and the new position adopted.
	StatusRelocated Status = "relocated"
	// StatusUncertain means only a fuzzy match was found; the new position is
	// adopted but flagged for reduced-confidence display.
	StatusUncertain Status = "uncertain"
	// StatusOrphaned means the text is gone (or the position fell outside the
	// document); the old position is retained.
	StatusOrphaned Status = "orphaned"
	// StatusFallback means recovery was skipped and the stored position
	// returned unchanged.
	StatusFallback Status = "fallback"
)

// Candidates shorter than this produce too many false positives in real prose.
const minAnchorLen = 3

// A comment younger than this has a position that is correct by construction;
// searching immediately risks matching a different occurrence of short text.
const freshnessWindow = 10 * time.Second

// Recovery is the result of one recovery attempt. Start/End are character
// (rune) offsets, half-open.
type Recovery struct {
	Start   int
	End     int
	Status  Status
	Quality Quality
}

// RecoverPosition locates highlighted in body and computes the comment's new
// position, or determines that the anchor is no longer valid. start/end are
// the last known offsets, createdAt the comment's creation time.
func RecoverPosition(highlighted string, start, end int, createdAt time.Time, body string, now time.Time) Recovery {
	// Freshness guard: a just-created comment is already positioned correctly.
	if now.Sub(createdAt) < freshnessWindow {
		return Recovery{Start: start, End: end, Status: StatusFallback, Quality: QualityNone}
	}

	// Legacy guard: records predating anchor snapshots carry no text to search for.
	if highlighted == "" {
		return Recovery{Start: start, End: end, Status: StatusFallback, Quality: QualityNone}
	}

	anchorRunes := []rune(highlighted)
	bodyRunes := []rune(body)

	if len(anchorRunes) < minAnchorLen {
		return Recovery{Start: start, End: end, Status: StatusOrphaned, Quality: QualityNone}
	}

	quality := QualityExact
	positions := occurrences(bodyRunes, anchorRunes, false)
	if len(positions) == 0 {
		quality = QualityCaseInsensitive
		positions = occurrences(bodyRunes, anchorRunes, true)
	}
	if len(positions) == 0 {
		quality = QualityFuzzy
		positions = fuzzyOccurrences(bodyRunes, anchorRunes)
	}
	if len(positions) == 0 {
		return Recovery{Start: start, End: end, Status: StatusOrphaned, Quality: QualityNone}
	}

	// Disambiguation: when the text occurs more than once at the same tier,
	// prefer the occurrence nearest the last known position.
	newStart := nearest(positions, start)
	newEnd := newStart + len(anchorRunes)

	if newStart < 0 || newEnd > len(bodyRunes) {
		return Recovery{Start: start, End: end, Status: StatusOrphaned, Quality: QualityNone}
	}

	status := StatusRelocated
	if quality == QualityFuzzy {
		status = StatusUncertain
	}
	return Recovery{Start: newStart, End: newEnd, Status: status, Quality: quality}
}

// occurrences returns the start offsets of every occurrence of anchor in
// body, optionally case-folded.
func occurrences(body, anchor []rune, fold bool) []int {
	if len(anchor) == 0 || len(anchor) > len(body) {
		return nil
	}

	var found []int
	for i := 0; i+len(anchor) <= len(body); i++ {
		if runesEqual(body[i:i+len(anchor)], anchor, fold) {
			found = append(found, i)
		}
	}
	return found
}

// fuzzyOccurrences slides a window the length of anchor over body and keeps
// the windows with the lowest edit distance, provided it stays within the
// fuzzy threshold. Length-changing edits inside the window are absorbed by
// the distance tolerance.
func fuzzyOccurrences(body, anchor []rune) []int {
	if len(anchor) > len(body) {
		return nil
	}

	budget := int(float64(len(anchor)) * fuzzyThreshold)
	if budget < 1 {
		budget = 1
	}

	best := budget + 1
	var found []int
	for i := 0; i+len(anchor) <= len(body); i++ {
		d := levenshtein(body[i:i+len(anchor)], anchor)
		if d > budget {
			continue
		}
		if d < best {
			best = d
			found = found[:0]
		}
		if d == best {
			found = append(found, i)
		}
	}
	return found
}

func runesEqual(a, b []rune, fold bool) bool {
	for i := range a {
		if fold {
			if unicode.ToLower(a[i]) != unicode.ToLower(b[i]) {
				return false
			}
		} else if a[i] != b[i] {
			return false
		}
	}
	return true
}

// nearest picks the position numerically closest to the previous start,
// preserving locality intent when text is duplicated.
func nearest(positions []int, previous int) int {
	best := positions[0]
	for _, p := range positions[1:] {
		if abs(p-previous) < abs(best-previous) {
			best = p
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
