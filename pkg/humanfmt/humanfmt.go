// Package humanfmt renders sizes, counts, rates, durations and progress as
// the companion "_h" fields of pretty log output.
package humanfmt

import (
	"strconv"
	"time"
)

// Binary (IEC) units for bytes.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

// unit is one step of a scale, largest first.
type unit struct {
	size   float64
	suffix string
}

var (
	binary = []unit{{TiB, " TiB"}, {GiB, " GiB"}, {MiB, " MiB"}, {KiB, " KiB"}}
	metric = []unit{{1e9, "B"}, {1e6, "M"}, {1e3, "K"}}
)

// scale renders v in the largest unit it reaches with two decimals. It
// reports false when v is below every unit.
func scale(v float64, units []unit) (string, bool) {
	for _, u := range units {
		if v >= u.size {
			return strconv.FormatFloat(v/u.size, 'f', 2, 64) + u.suffix, true
		}
	}
	return "", false
}

// Bytes formats a byte count using IEC binary units, e.g. "1.23 GiB".
func Bytes(b int64) string {
	if s, ok := scale(float64(b), binary); ok {
		return s
	}
	return strconv.FormatInt(b, 10) + " B"
}

// Count formats a count with metric suffixes, e.g. "1.23M". Counts below a
// thousand are exact.
func Count(n int64) string {
	if s, ok := scale(float64(n), metric); ok {
		return s
	}
	return strconv.FormatInt(n, 10)
}

// Rate formats n events over d as events per second, e.g. "12.5/s".
func Rate(n int64, d time.Duration) string {
	if d <= 0 {
		return "∞"
	}
	perSec := float64(n) / d.Seconds()
	if s, ok := scale(perSec, metric); ok {
		return s + "/s"
	}
	return strconv.FormatFloat(perSec, 'f', 1, 64) + "/s"
}

// Percent formats done out of total, e.g. "42.5%". An empty total is
// complete.
func Percent(done, total int64) string {
	if total <= 0 {
		return "100.0%"
	}
	return strconv.FormatFloat(float64(done)*100/float64(total), 'f', 1, 64) + "%"
}

// Duration formats d compactly. Sub-minute values keep a fraction, e.g.
// "1.23s", "45.6ms" or "789.0µs"; longer ones use two whole components with
// a zero minor one dropped, e.g. "1m30s", "2h" or "2h15m".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return d.String()
	case d < time.Microsecond:
		return strconv.FormatInt(int64(d), 10) + "ns"
	case d < time.Millisecond:
		return fraction(d, time.Microsecond, 1) + "µs"
	case d < time.Second:
		return fraction(d, time.Millisecond, 1) + "ms"
	case d < time.Minute:
		return fraction(d, time.Second, 2) + "s"
	}

	major, minor, majorSuffix, minorSuffix := time.Minute, time.Second, "m", "s"
	if d >= time.Hour {
		major, minor, majorSuffix, minorSuffix = time.Hour, time.Minute, "h", "m"
	}
	out := strconv.FormatInt(int64(d/major), 10) + majorSuffix
	if rest := (d % major) / minor; rest > 0 {
		out += strconv.FormatInt(int64(rest), 10) + minorSuffix
	}
	return out
}

func fraction(d, unit time.Duration, prec int) string {
	return strconv.FormatFloat(float64(d)/float64(unit), 'f', prec, 64)
}
