// Package chat reads exported chat transcripts and picks out the lines that
// record payments.
package chat

import (
	"regexp"
	"strings"
)

// Envelope is the timestamp, sender and body of one transcript line.
type Envelope struct {
	Timestamp string
	Sender    string
	Content   string
	Grammar   string
}

type envelopeGrammar struct {
	name string
	re   *regexp.Regexp
}

const (
	genericTime = `\d{1,2}[/.\-]\d{1,2}[/.\-](?:\d{4}|\d{2}),?\s*\d{1,2}:\d{2}(?::\d{2})?(?:\s*[AaPp]\.?\s?[Mm]\.?)?`
	senderBody  = `(?P<sender>[^:\[\]]+?):\s?(?P<content>.*)$`
	dash        = `\s+[-–]\s+`
)

// envelopes are tried in order; the first that matches the whole line wins.
var envelopes = []envelopeGrammar{
	{"android_ymd", regexp.MustCompile(`^(?P<ts>\d{4}/\d{1,2}/\d{1,2},\s*\d{1,2}:\d{2})` + dash + senderBody)},
	{"ios_short_year", regexp.MustCompile(`^\[(?P<ts>\d{1,2}/\d{1,2}/\d{2} \d{1,2}:\d{2}:\d{2})\]\s*` + senderBody)},
	{"ios", regexp.MustCompile(`^\[(?P<ts>\d{1,2}/\d{1,2}/\d{4},\s*\d{1,2}:\d{2}:\d{2})\]\s*` + senderBody)},
	{"android_dmy", regexp.MustCompile(`^(?P<ts>\d{1,2}/\d{1,2}/(?:\d{4}|\d{2}),\s*\d{1,2}:\d{2})` + dash + senderBody)},
	{"generic_dash", regexp.MustCompile(`^(?P<ts>` + genericTime + `)` + dash + senderBody)},
	{"generic_bracket", regexp.MustCompile(`^\[(?P<ts>` + genericTime + `)\]\s*` + senderBody)},
}

// Classify splits a normalized transcript line into its envelope. Lines that
// match no envelope are not chat messages.
func Classify(line string) (Envelope, bool) {
	for _, g := range envelopes {
		m := g.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		env := Envelope{
			Timestamp: m[g.re.SubexpIndex("ts")],
			Sender:    strings.TrimSpace(m[g.re.SubexpIndex("sender")]),
			Content:   strings.TrimSpace(m[g.re.SubexpIndex("content")]),
			Grammar:   g.name,
		}
		if env.Sender == "" {
			continue
		}
		return env, true
	}
	return Envelope{}, false
}
