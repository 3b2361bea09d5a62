package media

import (
	"math"
	"regexp"
	"strconv"

	"silence-trimmer/internal/interval"
)

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*([-+0-9.eE]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([-+0-9.eE]+)`)
)

// ParseSilenceLog extracts silencedetect markers from ffmpeg's diagnostic
// output. The k-th start pairs with the k-th end in emission order; a trailing
// start with no end (silence running to end of stream) is dropped. Negative
// offsets, which silencedetect emits for silence at the very head of a file,
// are clamped to zero. The result is not validated.
func ParseSilenceLog(text string) []interval.Interval {
	starts := markerValues(silenceStartRe, text)
	ends := markerValues(silenceEndRe, text)

	n := len(starts)
	if len(ends) < n {
		n = len(ends)
	}
	out := make([]interval.Interval, 0, n)
	for k := 0; k < n; k++ {
		start, end := starts[k], ends[k]
		if start < 0 {
			start = 0
		}
		if end < 0 {
			end = 0
		}
		out = append(out, interval.Interval{Start: start, End: end})
	}
	return out
}

func markerValues(re *regexp.Regexp, text string) []float64 {
	matches := re.FindAllStringSubmatch(text, -1)
	values := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			// Keep the slot so later pairs stay aligned; validation rejects NaN.
			v = math.NaN()
		}
		values = append(values, v)
	}
	return values
}
