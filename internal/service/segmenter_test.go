package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/domain"
)

func sectionNames(sections []domain.Section) []domain.SectionName {
	names := make([]domain.SectionName, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	return names
}

func TestSectionSegmenter_Segment(t *testing.T) {
	profile := testKnowledge(t).Profile("mammography")
	segmenter := NewSectionSegmenter()

	tests := []struct {
		name string
		text string
		want []domain.SectionName
	}{
		{"empty", "", []domain.SectionName{}},
		{"no header", "Just some prose about the weather.", []domain.SectionName{domain.SectionUnknown}},
		{"two headers", "FINDINGS: mass.\nIMPRESSION: Suspicious.", []domain.SectionName{domain.SectionFindings, domain.SectionImpression}},
		{"preamble", "Preliminary note\nFINDINGS: mass", []domain.SectionName{domain.SectionUnknown, domain.SectionFindings}},
		{"header alone on its line", "OBSERVATIONS\nSein droit: normal\nCONCLUSION:\nBI-RADS 1", []domain.SectionName{domain.SectionFindings, domain.SectionConclusion}},
		{"repeated header opens a section", "FINDINGS: a\nFINDINGS: b\nIMPRESSION: c", []domain.SectionName{domain.SectionFindings, domain.SectionFindings, domain.SectionImpression}},
		{"repeated header only", "FINDINGS: left mass.\nFINDINGS: right mass.", []domain.SectionName{domain.SectionFindings, domain.SectionFindings}},
		{"longest phrase wins", "Patient ID: 123\nClinical indication: screening", []domain.SectionName{domain.SectionPatientInfo, domain.SectionClinicalHistory}},
		{"phrase must end at colon", "Patients were seen\nPlanning ahead", []domain.SectionName{domain.SectionUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sections := segmenter.Segment(tt.text, profile)
			assert.Equal(t, tt.want, sectionNames(sections))

			// Sections cover the text exactly.
			pos := 0
			for _, s := range sections {
				assert.Equal(t, pos, s.Start)
				assert.Equal(t, tt.text[s.Start:s.End], s.Text)
				pos = s.End
			}
			assert.Equal(t, len(tt.text), pos)
		})
	}
}

func TestSectionSegmenter_Offsets(t *testing.T) {
	text := "FINDINGS: Irregular spiculated mass, right breast, 1.2cm.\nIMPRESSION: Suspicious."
	sections := NewSectionSegmenter().Segment(text, testKnowledge(t).Profile("mammography"))

	require.Len(t, sections, 2)
	assert.Equal(t, 0, sections[0].Start)
	assert.Equal(t, 58, sections[0].End)
	assert.Equal(t, 58, sections[1].Start)
	assert.Equal(t, len(text), sections[1].End)
}
