package service

import (
	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/knowledge"
	"github.com/medreport-mcp-server/pkg/reporttext"
)

// TextNormalizer canonicalizes report text using the header vocabulary of the
// selected profile. Normalizers are built once per profile at construction.
type TextNormalizer struct {
	byProfile map[string]*reporttext.Normalizer
}

// NewTextNormalizer prepares a normalizer for every profile of the knowledge base.
func NewTextNormalizer(kb *knowledge.Base) *TextNormalizer {
	n := &TextNormalizer{byProfile: make(map[string]*reporttext.Normalizer)}
	for _, p := range kb.Profiles() {
		n.byProfile[p.Key] = reporttext.NewNormalizer(p.HeaderPhrases())
	}
	return n
}

// Normalize returns the canonical text of the report. It never fails.
func (n *TextNormalizer) Normalize(raw domain.RawReport, profile *domain.Profile) string {
	if profile != nil {
		if rn, ok := n.byProfile[profile.Key]; ok {
			return rn.Normalize(raw.Text)
		}
		return reporttext.NewNormalizer(profile.HeaderPhrases()).Normalize(raw.Text)
	}
	return reporttext.Normalize(raw.Text)
}
