package currency

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var digitFolder = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٫", ".", "٬", ",",
)

// ParseAmount turns a numeral as written in a message into a decimal. The
// last '.' or ',' is the fractional separator when exactly one or two digits
// follow it; every other separator is thousands grouping. Arabic-Indic digits
// are accepted. Negative or digitless input is rejected.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(digitFolder.Replace(raw))
	if s == "" {
		return decimal.Zero, false
	}

	whole, frac := s, ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 {
		tail := s[i+1:]
		if len(tail) >= 1 && len(tail) <= 2 && allDigits(tail) {
			whole, frac = s[:i], tail
		}
	}

	var b strings.Builder
	for _, r := range whole {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ',' || unicode.IsSpace(r):
		default:
			return decimal.Zero, false
		}
	}
	if b.Len() == 0 && frac == "" {
		return decimal.Zero, false
	}
	if b.Len() == 0 {
		b.WriteByte('0')
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}

	d, err := decimal.NewFromString(b.String())
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var standaloneNumbers = []*regexp.Regexp{
	regexp.MustCompile(numberPattern(latinDigits)),
	regexp.MustCompile(numberPattern(arabicDigits)),
}

// HasNumeral reports whether text contains a Latin or Arabic-Indic digit.
func HasNumeral(text string) bool {
	for _, re := range standaloneNumbers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// FirstNumber returns the earliest number in text that is not glued to a
// letter or another digit, with its byte span.
func FirstNumber(text string) (decimal.Decimal, int, int, bool) {
	bestStart, bestEnd := -1, -1
	var best decimal.Decimal
	for _, re := range standaloneNumbers {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if bestStart >= 0 && start >= bestStart {
				break
			}
			if !standalone(text, start, end) {
				continue
			}
			if d, ok := ParseAmount(text[start:end]); ok {
				best, bestStart, bestEnd = d, start, end
				break
			}
		}
	}
	if bestStart < 0 {
		return decimal.Zero, 0, 0, false
	}
	return best, bestStart, bestEnd, true
}

func standalone(text string, start, end int) bool {
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
	}
	if end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return false
		}
	}
	return true
}
