// Package reporttext provides text canonicalization and low-level parsers for
// free-text clinical reports: normalization, measurements and dates.
package reporttext

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const byteOrderMark = "\uFEFF"

// Normalizer canonicalizes report text. A Normalizer is immutable after
// construction and safe for concurrent use.
type Normalizer struct {
	inlineHeader *regexp.Regexp
	lineHeader   *regexp.Regexp
}

// NewNormalizer builds a normalizer that recognizes the given header phrases.
// Phrases are matched case-insensitively; longer phrases take precedence.
func NewNormalizer(headerPhrases []string) *Normalizer {
	alternation := headerAlternation(headerPhrases)
	if alternation == "" {
		return &Normalizer{}
	}
	return &Normalizer{
		// a header introduced mid-line after sentence punctuation, e.g. "1.2cm. IMPRESSION: ..."
		inlineHeader: regexp.MustCompile(`(?i)([.;!?])[ ]+((?:` + alternation + `)[ ]*:)`),
		lineHeader:   regexp.MustCompile(`(?i)^(` + alternation + `)[ ]*(?::|$)`),
	}
}

func headerAlternation(phrases []string) string {
	uniq := make(map[string]bool)
	var cleaned []string
	for _, p := range phrases {
		p = strings.ToLower(strings.Join(strings.Fields(p), " "))
		if p == "" || uniq[p] {
			continue
		}
		uniq[p] = true
		cleaned = append(cleaned, p)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		if len(cleaned[i]) != len(cleaned[j]) {
			return len(cleaned[i]) > len(cleaned[j])
		}
		return cleaned[i] < cleaned[j]
	})
	parts := make([]string, len(cleaned))
	for i, p := range cleaned {
		parts[i] = strings.ReplaceAll(regexp.QuoteMeta(p), " ", "[ ]+")
	}
	return strings.Join(parts, "|")
}

// DecodeText converts raw bytes to UTF-8. UTF-16 input is detected by its byte
// order mark and any other invalid UTF-8 is decoded as Windows-1252.
func DecodeText(data []byte) string {
	if len(data) >= 2 && ((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF)) {
		decoder := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewDecoder()
		if s, _, err := transform.Bytes(decoder, data); err == nil {
			return string(s)
		}
	}
	return ensureUTF8(string(data))
}

func ensureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, _, err := transform.String(charmap.Windows1252.NewDecoder(), s)
	if err != nil {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	return decoded
}

// Normalize returns the canonical form of text. It never fails; empty input
// yields an empty string. Normalize is idempotent.
func (n *Normalizer) Normalize(text string) string {
	text = strings.TrimPrefix(ensureUTF8(text), byteOrderMark)
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if n.inlineHeader != nil {
		text = n.inlineHeader.ReplaceAllString(foldSpaces(text), "$1\n$2")
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := true // suppresses leading blank lines
	for _, line := range lines {
		line = strings.TrimSpace(foldSpaces(line))
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, n.canonicalHeader(line))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// canonicalHeader upper-cases a recognized header phrase that opens the line.
func (n *Normalizer) canonicalHeader(line string) string {
	if n.lineHeader == nil {
		return line
	}
	loc := n.lineHeader.FindStringSubmatchIndex(line)
	if loc == nil {
		return line
	}
	return strings.ToUpper(line[:loc[3]]) + line[loc[3]:]
}

// foldSpaces maps every non-newline whitespace rune to a single ASCII space,
// drops other control characters and folds typographic apostrophes.
func foldSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
		case unicode.IsControl(r) || r == '\uFEFF':
		case r == '\u2019' || r == '\u2018':
			b.WriteByte('\'')
			prevSpace = false
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return b.String()
}

// Normalize canonicalizes text without header awareness.
func Normalize(text string) string {
	return (&Normalizer{}).Normalize(text)
}
