// Package evaluation scores the analysis pipeline against labelled reports.
package evaluation

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/medreport-mcp-server/internal/domain"
)

//go:embed corpus.yaml
var embeddedCorpus []byte

// Expectation is the ground truth of a labelled report.
type Expectation struct {
	Category domain.Category `yaml:"category" json:"category"`
	// Assessment is the stated BI-RADS value including any 4A/4B/4C subdivision.
	Assessment string `yaml:"assessment" json:"assessment,omitempty"`
	Biopsy     bool   `yaml:"biopsy" json:"biopsy"`
	Findings   int    `yaml:"findings" json:"findings"`
	Age        int    `yaml:"age" json:"age,omitempty"`
	Sex        string `yaml:"sex" json:"sex,omitempty"`
}

// Case is one labelled report.
type Case struct {
	ID         string      `yaml:"id" json:"id"`
	ReportType string      `yaml:"report_type" json:"report_type"`
	Text       string      `yaml:"text" json:"text"`
	Expected   Expectation `yaml:"expected" json:"expected"`
}

type corpusFile struct {
	Cases []Case `yaml:"cases"`
}

// SampleCorpus returns the embedded French mammography corpus.
func SampleCorpus() ([]Case, error) {
	return ParseCorpus(embeddedCorpus)
}

// LoadCorpus reads a corpus file, or the embedded one when path is empty.
func LoadCorpus(path string) ([]Case, error) {
	if path == "" {
		return SampleCorpus()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	return ParseCorpus(data)
}

// ParseCorpus decodes and validates a YAML corpus.
func ParseCorpus(data []byte) ([]Case, error) {
	var doc corpusFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	if len(doc.Cases) == 0 {
		return nil, fmt.Errorf("corpus has no cases")
	}

	seen := make(map[string]bool, len(doc.Cases))
	for i, c := range doc.Cases {
		if c.ID == "" {
			return nil, fmt.Errorf("case %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate case id %s", c.ID)
		}
		seen[c.ID] = true
		if c.Text == "" {
			return nil, fmt.Errorf("case %s has no text", c.ID)
		}
		if !c.Expected.Category.IsValid() {
			return nil, fmt.Errorf("case %s has invalid expected category %q", c.ID, c.Expected.Category)
		}
		if c.Expected.Findings < 0 {
			return nil, fmt.Errorf("case %s has a negative findings count", c.ID)
		}
	}
	return doc.Cases, nil
}
