package reporttext

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})\b`)
	isoDatePattern     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dayMonthPattern    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:er|st|nd|rd|th)?[ ]+([a-zéû]{3,9})\.?,?[ ]+(\d{4})\b`)
	monthDayPattern    = regexp.MustCompile(`(?i)\b([a-z]{3,9})\.?[ ]+(\d{1,2})(?:st|nd|rd|th)?,?[ ]+(\d{4})\b`)
)

var monthNames = map[string]time.Month{
	"jan": 1, "january": 1, "janvier": 1,
	"feb": 2, "february": 2, "fev": 2, "février": 2, "fevrier": 2,
	"mar": 3, "march": 3, "mars": 3,
	"apr": 4, "april": 4, "avr": 4, "avril": 4,
	"may": 5, "mai": 5,
	"jun": 6, "june": 6, "juin": 6,
	"jul": 7, "july": 7, "juil": 7, "juillet": 7,
	"aug": 8, "august": 8, "août": 8, "aout": 8,
	"sep": 9, "sept": 9, "september": 9, "septembre": 9,
	"oct": 10, "october": 10, "octobre": 10,
	"nov": 11, "november": 11, "novembre": 11,
	"dec": 12, "december": 12, "déc": 12, "décembre": 12, "decembre": 12,
}

// DateMatch is a calendar date found at [Start,End) of the scanned text.
// Ambiguous is set when a numeric date reads validly both day-first and
// month-first with different results; the day-first reading is returned.
type DateMatch struct {
	Start     int
	End       int
	Date      time.Time
	Ambiguous bool
}

// ISO returns the date formatted as YYYY-MM-DD.
func (d DateMatch) ISO() string {
	return d.Date.Format("2006-01-02")
}

// FindDates returns the valid dates in text ordered by position. Candidates
// that do not form a real calendar date are skipped.
func FindDates(text string) []DateMatch {
	var candidates []DateMatch

	for _, m := range isoDatePattern.FindAllStringSubmatchIndex(text, -1) {
		y, mo, d := atoi(text[m[2]:m[3]]), atoi(text[m[4]:m[5]]), atoi(text[m[6]:m[7]])
		if t, ok := makeDate(y, mo, d); ok {
			candidates = append(candidates, DateMatch{Start: m[0], End: m[1], Date: t})
		}
	}
	for _, m := range numericDatePattern.FindAllStringSubmatchIndex(text, -1) {
		a, b := atoi(text[m[2]:m[3]]), atoi(text[m[4]:m[5]])
		y := expandYear(text[m[6]:m[7]])
		dayFirst, okDF := makeDate(y, b, a)
		monthFirst, okMF := makeDate(y, a, b)
		switch {
		case okDF:
			candidates = append(candidates, DateMatch{Start: m[0], End: m[1], Date: dayFirst,
				Ambiguous: okMF && !dayFirst.Equal(monthFirst)})
		case okMF:
			candidates = append(candidates, DateMatch{Start: m[0], End: m[1], Date: monthFirst})
		}
	}
	for _, m := range dayMonthPattern.FindAllStringSubmatchIndex(text, -1) {
		month, ok := monthNames[strings.ToLower(text[m[4]:m[5]])]
		if !ok {
			continue
		}
		if t, ok := makeDate(atoi(text[m[6]:m[7]]), int(month), atoi(text[m[2]:m[3]])); ok {
			candidates = append(candidates, DateMatch{Start: m[0], End: m[1], Date: t})
		}
	}
	for _, m := range monthDayPattern.FindAllStringSubmatchIndex(text, -1) {
		month, ok := monthNames[strings.ToLower(text[m[2]:m[3]])]
		if !ok {
			continue
		}
		if t, ok := makeDate(atoi(text[m[6]:m[7]]), int(month), atoi(text[m[4]:m[5]])); ok {
			candidates = append(candidates, DateMatch{Start: m[0], End: m[1], Date: t})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	var out []DateMatch
	lastEnd := -1
	for _, c := range candidates {
		if c.Start < lastEnd {
			continue
		}
		out = append(out, c)
		lastEnd = c.End
	}
	return out
}

func makeDate(year, month, day int) (time.Time, bool) {
	if year < 1900 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func expandYear(s string) int {
	y := atoi(s)
	if len(s) == 2 {
		if y < 50 {
			return 2000 + y
		}
		return 1900 + y
	}
	return y
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
