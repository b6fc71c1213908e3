package reporttext

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Plausibility bounds for a single lesion dimension, in millimetres.
const (
	MinMeasurementMM = 0.1
	MaxMeasurementMM = 300.0
)

var (
	ErrMalformedMeasurement   = errors.New("malformed measurement")
	ErrImplausibleMeasurement = errors.New("implausible measurement")
)

var measurementPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)(?:[ ]*[x×*][ ]*(\d+(?:[.,]\d+)?))?(?:[ ]*[x×*][ ]*(\d+(?:[.,]\d+)?))?[ ]*(mm|cm)\b`)

// Measurement is a size with one to three dimensions.
type Measurement struct {
	Dimensions []float64
	Unit       string // "mm" or "cm"
}

// Millimetres returns the largest dimension in millimetres.
func (m Measurement) Millimetres() float64 {
	largest := 0.0
	for _, d := range m.Dimensions {
		if d > largest {
			largest = d
		}
	}
	if m.Unit == "cm" {
		return largest * 10
	}
	return largest
}

// Canonical renders the measurement as e.g. "1.2cm" or "12x8mm".
func (m Measurement) Canonical() string {
	parts := make([]string, len(m.Dimensions))
	for i, d := range m.Dimensions {
		parts[i] = strconv.FormatFloat(d, 'f', -1, 64)
	}
	return strings.Join(parts, "x") + m.Unit
}

// MeasurementMatch is a measurement found at [Start,End) of the scanned text.
type MeasurementMatch struct {
	Start       int
	End         int
	Measurement Measurement
}

// FindMeasurements returns every well-formed, plausible measurement in text.
// Candidates that fail to parse are skipped.
func FindMeasurements(text string) []MeasurementMatch {
	var out []MeasurementMatch
	for _, loc := range measurementPattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > 0 && isNumericContinuation(text, loc[0]) {
			continue
		}
		m, err := parseGroups(text, loc)
		if err != nil {
			continue
		}
		out = append(out, MeasurementMatch{Start: loc[0], End: loc[1], Measurement: m})
	}
	return out
}

// ParseMeasurement parses a single measurement such as "1,2 cm" or "12 x 8 mm".
func ParseMeasurement(s string) (Measurement, error) {
	s = strings.TrimSpace(s)
	loc := measurementPattern.FindStringSubmatchIndex(s)
	if loc == nil || loc[0] != 0 || loc[1] != len(s) {
		return Measurement{}, fmt.Errorf("%w: %q", ErrMalformedMeasurement, s)
	}
	return parseGroups(s, loc)
}

func parseGroups(text string, loc []int) (Measurement, error) {
	m := Measurement{Unit: strings.ToLower(text[loc[8]:loc[9]])}
	for g := 1; g <= 3; g++ {
		if loc[2*g] < 0 {
			continue
		}
		raw := strings.Replace(text[loc[2*g]:loc[2*g+1]], ",", ".", 1)
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Measurement{}, fmt.Errorf("%w: %q", ErrMalformedMeasurement, raw)
		}
		mm := v
		if m.Unit == "cm" {
			mm = v * 10
		}
		if mm < MinMeasurementMM || mm > MaxMeasurementMM {
			return Measurement{}, fmt.Errorf("%w: %v%s", ErrImplausibleMeasurement, v, m.Unit)
		}
		m.Dimensions = append(m.Dimensions, v)
	}
	return m, nil
}

// isNumericContinuation reports whether the match at pos continues a longer
// numeric token such as "1.2.3 cm", which is treated as malformed.
func isNumericContinuation(text string, pos int) bool {
	prev := text[pos-1]
	if prev >= '0' && prev <= '9' {
		return true
	}
	if (prev == '.' || prev == ',') && pos >= 2 {
		before := text[pos-2]
		return before >= '0' && before <= '9'
	}
	return false
}
