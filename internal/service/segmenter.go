package service

import (
	"strings"
	"unicode/utf8"

	"github.com/medreport-mcp-server/internal/domain"
)

// SectionSegmenter splits normalized text into sections at recognized header
// lines. It holds no state and is safe for concurrent use.
type SectionSegmenter struct{}

// NewSectionSegmenter creates a segmenter.
func NewSectionSegmenter() *SectionSegmenter {
	return &SectionSegmenter{}
}

type headerPhrase struct {
	phrase   string
	runes    int
	section  domain.SectionName
	priority int
}

// Segment splits text into an ordered, gap-free sequence of sections.
// Text before the first header becomes a leading UNKNOWN section; text with
// no header at all becomes a single UNKNOWN section. Every header line opens a
// new section, even when it repeats the one already open.
func (s *SectionSegmenter) Segment(text string, profile *domain.Profile) []domain.Section {
	sections := []domain.Section{}
	if text == "" {
		return sections
	}

	phrases := headerPhrases(profile)
	current := domain.SectionUnknown
	start := 0

	lineStart := 0
	for lineStart < len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		next := len(text)
		if lineEnd >= 0 {
			lineEnd += lineStart
			next = lineEnd + 1
		} else {
			lineEnd = len(text)
		}

		if name, ok := matchHeader(text[lineStart:lineEnd], phrases); ok {
			if lineStart > start {
				sections = append(sections, newSection(text, current, start, lineStart))
			}
			current = name
			start = lineStart
		}
		lineStart = next
	}

	return append(sections, newSection(text, current, start, len(text)))
}

func newSection(text string, name domain.SectionName, start, end int) domain.Section {
	return domain.Section{Name: name, Text: text[start:end], Start: start, End: end}
}

func headerPhrases(profile *domain.Profile) []headerPhrase {
	if profile == nil {
		return nil
	}
	var out []headerPhrase
	for priority, entry := range profile.Taxonomy {
		for _, p := range entry.Phrases {
			p = strings.ToLower(strings.Join(strings.Fields(p), " "))
			out = append(out, headerPhrase{phrase: p, runes: utf8.RuneCountInString(p), section: entry.Section, priority: priority})
		}
	}
	return out
}

// matchHeader reports the section of the longest header phrase opening the
// line. A phrase only counts when followed by a colon or the end of the line.
// Equal-length matches resolve to the earlier taxonomy entry.
func matchHeader(line string, phrases []headerPhrase) (domain.SectionName, bool) {
	lower := strings.ToLower(strings.TrimSpace(line))
	best := -1
	for i, hp := range phrases {
		if !strings.HasPrefix(lower, hp.phrase) {
			continue
		}
		rest := strings.TrimLeft(lower[len(hp.phrase):], " ")
		if rest != "" && rest[0] != ':' {
			continue
		}
		if best < 0 || hp.runes > phrases[best].runes ||
			(hp.runes == phrases[best].runes && hp.priority < phrases[best].priority) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return phrases[best].section, true
}
