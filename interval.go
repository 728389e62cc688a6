package kitd

import (
	"fmt"
	"time"
)

// Interval is a non-negative duration with sub-second precision, parsed
// from the operator-facing grammar described on ParseInterval: a
// decimal integer followed by an optional unit suffix.
type Interval struct {
	d time.Duration
}

// NewInterval wraps an already-computed duration.
func NewInterval(d time.Duration) Interval {
	if d < 0 {
		d = 0
	}
	return Interval{d: d}
}

// Duration returns the underlying time.Duration.
func (iv Interval) Duration() time.Duration {
	return iv.d
}

// ParseInterval parses text of the form "<n>", "<n>s", "<n>m", "<n>h", or
// "<n>d". No suffix means milliseconds. Any other trailing byte is a
// configuration error.
func ParseInterval(text string) (Interval, error) {
	if text == "" {
		return Interval{}, fmt.Errorf("interval %q: empty", text)
	}

	i := 0
	for i < len(text) && text[i] >= '0' && text[i] <= '9' {
		i++
	}
	if i == 0 {
		return Interval{}, fmt.Errorf("interval %q: expected a leading digit", text)
	}

	n, err := parseUint(text[:i])
	if err != nil {
		return Interval{}, fmt.Errorf("interval %q: %w", text, err)
	}

	suffix := text[i:]
	var unit time.Duration
	switch suffix {
	case "":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	default:
		return Interval{}, fmt.Errorf("interval %q: unknown suffix %q", text, suffix)
	}

	return Interval{d: time.Duration(n) * unit}, nil
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a decimal integer: %q", s)
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}

// Format renders the interval for humans: "<ms>ms" under one second,
// otherwise the largest non-zero unit down through seconds, e.g.
// "2d 3h 0m 5s".
func (iv Interval) Format() string {
	d := iv.d
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	hours := total / 3600
	total %= 3600
	minutes := total / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func (iv Interval) String() string {
	return iv.Format()
}
