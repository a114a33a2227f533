// Package timestamp parses the date/time prefixes written by chat exports.
package timestamp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock returns a TimeSource backed by time.Now
func SystemClock() TimeSource {
	return systemClock{}
}

// FixedClock always reports the same instant
type FixedClock time.Time

func (c FixedClock) Now() time.Time {
	return time.Time(c)
}

type grammar struct {
	name string
	re   *regexp.Regexp
}

const (
	hm   = `(?P<H>\d{1,2}):(?P<M>\d{2})`
	hms  = hm + `:(?P<S>\d{2})`
	dmy  = `(?P<d>\d{1,2})/(?P<m>\d{1,2})/(?P<y>\d{4}|\d{2})`
	ampm = `(?:\s*(?P<ampm>[AaPp]\.?\s?[Mm]\.?))?`
)

// grammars are tried in order against the whole token.
var grammars = []grammar{
	{"ymd", regexp.MustCompile(`^(?P<y>\d{4})/(?P<m>\d{1,2})/(?P<d>\d{1,2}),\s*` + hm + `$`)},
	{"dmy", regexp.MustCompile(`^` + dmy + `,\s*` + hm + `$`)},
	{"dmy_seconds", regexp.MustCompile(`^` + dmy + `,?\s+` + hms + `$`)},
	{"dmy_dotted", regexp.MustCompile(`^(?P<d>\d{1,2})\.(?P<m>\d{1,2})\.(?P<y>\d{4}),\s*` + hm + `$`)},
	{"dmy_dashed", regexp.MustCompile(`^(?P<d>\d{1,2})-(?P<m>\d{1,2})-(?P<y>\d{4}),\s*` + hm + `$`)},
	{"generic", regexp.MustCompile(`^(?P<d>\d{1,2})[/.\-](?P<m>\d{1,2})[/.\-](?P<y>\d{4}|\d{2}),?\s*` + hm + `(?::(?P<S>\d{2}))?` + ampm + `$`)},
}

// Normalizer turns raw chat timestamps into instants in Location. Clock
// supplies the fallback when nothing parses.
type Normalizer struct {
	Location *time.Location
	Clock    TimeSource
}

// NewNormalizer creates a Normalizer; nil arguments select the local zone and
// the system clock.
func NewNormalizer(loc *time.Location, clock TimeSource) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Normalizer{Location: loc, Clock: clock}
}

// Normalize parses raw with the first grammar that matches the whole token and
// yields a real calendar date. When none does it returns the clock's current
// time and false; the caller keeps the record either way.
func (n *Normalizer) Normalize(raw string) (time.Time, bool) {
	token := strings.TrimSpace(raw)
	token = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(token, "["), "]"))

	for _, g := range grammars {
		m := g.re.FindStringSubmatch(token)
		if m == nil {
			continue
		}
		if t, ok := n.build(g.re, m); ok {
			return t, true
		}
	}
	return n.now(), false
}

// Matches reports whether raw is in a recognised format and is a real date.
func (n *Normalizer) Matches(raw string) bool {
	_, ok := n.Normalize(raw)
	return ok
}

func (n *Normalizer) now() time.Time {
	if n.Clock == nil {
		return time.Now()
	}
	return n.Clock.Now()
}

func (n *Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

func (n *Normalizer) build(re *regexp.Regexp, m []string) (time.Time, bool) {
	field := func(name string) string {
		if i := re.SubexpIndex(name); i >= 0 {
			return m[i]
		}
		return ""
	}
	num := func(name string) int {
		v, err := strconv.Atoi(field(name))
		if err != nil {
			return 0
		}
		return v
	}

	yearText := field("y")
	if len(yearText) == 2 {
		yearText = "20" + yearText
	}
	year, err := strconv.Atoi(yearText)
	if err != nil {
		return time.Time{}, false
	}
	month, day := num("m"), num("d")
	hour, minute, second := num("H"), num("M"), num("S")

	if marker := strings.ToUpper(field("ampm")); marker != "" {
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		pm := strings.HasPrefix(marker, "P")
		switch {
		case hour == 12 && !pm:
			hour = 0
		case hour != 12 && pm:
			hour += 12
		}
	}

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, n.location())
	// time.Date rolls 31/02 into March; reject it instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
