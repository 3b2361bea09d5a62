// Package interval holds the pure time-range arithmetic used to turn raw
// silence detections into a bounded edit list. Nothing here performs I/O.
package interval

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalid marks a degenerate, inverted, or non-finite interval.
	ErrInvalid = errors.New("invalid interval")
	// ErrUnordered marks a list whose starts are not ascending.
	ErrUnordered = errors.New("intervals not ordered by start")
)

// Interval is the half-open range [Start, End) in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (i Interval) Duration() float64 {
	return i.End - i.Start
}

// Validate reports whether the interval is finite, non-negative and has End > Start.
func (i Interval) Validate() error {
	if math.IsNaN(i.Start) || math.IsNaN(i.End) || math.IsInf(i.Start, 0) || math.IsInf(i.End, 0) {
		return fmt.Errorf("%w: non-finite bound [%v, %v)", ErrInvalid, i.Start, i.End)
	}
	if i.Start < 0 {
		return fmt.Errorf("%w: negative start %v", ErrInvalid, i.Start)
	}
	if i.End <= i.Start {
		return fmt.Errorf("%w: end %v not after start %v", ErrInvalid, i.End, i.Start)
	}
	return nil
}

func (i Interval) String() string {
	return fmt.Sprintf("[%.3f, %.3f)", i.Start, i.End)
}

// ValidateList checks every element and the ascending-start ordering.
func ValidateList(list []Interval) error {
	for idx, iv := range list {
		if err := iv.Validate(); err != nil {
			return fmt.Errorf("interval %d: %w", idx, err)
		}
		if idx > 0 && iv.Start < list[idx-1].Start {
			return fmt.Errorf("%w: interval %d starts at %v before %v", ErrUnordered, idx, iv.Start, list[idx-1].Start)
		}
	}
	return nil
}

// Total sums the durations of the list.
func Total(list []Interval) float64 {
	var sum float64
	for _, iv := range list {
		sum += iv.Duration()
	}
	return sum
}

// Merge coalesces consecutive intervals whose gap (next.Start - current.End)
// is strictly below minGap. The input must be ordered by Start.
func Merge(silences []Interval, minGap float64) ([]Interval, error) {
	if err := ValidateList(silences); err != nil {
		return nil, err
	}
	if math.IsNaN(minGap) || minGap < 0 {
		return nil, fmt.Errorf("%w: merge gap %v", ErrInvalid, minGap)
	}
	if len(silences) == 0 {
		return []Interval{}, nil
	}

	merged := make([]Interval, 0, len(silences))
	current := silences[0]
	for _, next := range silences[1:] {
		if next.Start-current.End < minGap {
			if next.End > current.End {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)
	return merged, nil
}

// Cap keeps at most limit intervals, preferring the longest (earliest start on
// ties), and returns the selection ordered by Start.
func Cap(silences []Interval, limit int) ([]Interval, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative cap %d", ErrInvalid, limit)
	}
	if len(silences) <= limit {
		return silences, nil
	}

	ranked := append([]Interval(nil), silences...)
	sort.SliceStable(ranked, func(a, b int) bool {
		da, db := ranked[a].Duration(), ranked[b].Duration()
		if da != db {
			return da > db
		}
		return ranked[a].Start < ranked[b].Start
	})
	kept := ranked[:limit]
	sort.SliceStable(kept, func(a, b int) bool {
		return kept[a].Start < kept[b].Start
	})
	return kept, nil
}

// KeepSegments returns the complement of silences within [0, total). Silences
// reaching past total are clipped. An empty result means the whole input is
// silent; callers treat that as "leave unchanged".
func KeepSegments(silences []Interval, total float64) ([]Interval, error) {
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return nil, fmt.Errorf("%w: total duration %v", ErrInvalid, total)
	}
	if err := ValidateList(silences); err != nil {
		return nil, err
	}
	if total == 0 {
		return []Interval{}, nil
	}
	if len(silences) == 0 {
		return []Interval{{Start: 0, End: total}}, nil
	}

	keep := make([]Interval, 0, len(silences)+1)
	cursor := 0.0
	for _, s := range silences {
		if s.Start >= total {
			break
		}
		if s.Start > cursor {
			keep = append(keep, Interval{Start: cursor, End: s.Start})
		}
		if s.End > cursor {
			cursor = s.End
		}
	}
	if cursor < total {
		keep = append(keep, Interval{Start: cursor, End: total})
	}
	return keep, nil
}
