// Package report renders analysis results for human review.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/medreport-mcp-server/internal/domain"
)

// Disclaimer is printed at the top of every rendered report.
const Disclaimer = "Advisory output generated by automated text analysis. This is not a diagnosis: " +
	"every finding and recommendation must be reviewed by a qualified radiologist."

// Renderer produces Markdown summaries and their HTML form.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a renderer with GitHub-flavoured tables enabled.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Markdown renders the result. profile supplies guideline text and may be nil.
func (r *Renderer) Markdown(result *domain.AnalysisResult, profile *domain.Profile) string {
	var b strings.Builder

	b.WriteString("# Report analysis\n\n")
	fmt.Fprintf(&b, "> %s\n\n", Disclaimer)
	fmt.Fprintf(&b, "- **Report type:** %s\n", cell(result.ReportType))
	fmt.Fprintf(&b, "- **Pipeline version:** %s\n", cell(result.PipelineVersion))
	fmt.Fprintf(&b, "- **Generated:** %s\n\n", result.GeneratedAt.UTC().Format(time.RFC3339))

	writeClassification(&b, result, profile)
	writeRecommendations(&b, result)
	writeTreatment(&b, result)
	writeEntities(&b, result)
	writeSections(&b, result)
	writeWarnings(&b, result)

	return b.String()
}

// HTML renders the Markdown summary as an HTML fragment. Raw HTML in report
// text is not passed through.
func (r *Renderer) HTML(result *domain.AnalysisResult, profile *domain.Profile) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(`<article class="medreport-analysis">` + "\n")
	if err := r.md.Convert([]byte(r.Markdown(result, profile)), &buf); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	buf.WriteString("</article>\n")
	return buf.String(), nil
}

func writeClassification(b *strings.Builder, result *domain.AnalysisResult, profile *domain.Profile) {
	c := result.Classification
	b.WriteString("## Classification\n\n")
	fmt.Fprintf(b, "**%s** (%s), confidence %.2f\n\n", c.Category, c.Category.Description(), c.Confidence)

	if profile != nil {
		if g, ok := profile.Guidelines[c.Category]; ok {
			fmt.Fprintf(b, "- Guideline: %s\n", cell(g.Description))
			fmt.Fprintf(b, "- Follow-up: %s\n", cell(g.FollowUp))
			fmt.Fprintf(b, "- Malignancy risk: %s\n\n", cell(g.MalignancyRisk))
		}
	}

	if len(c.Evidence) > 0 {
		b.WriteString("Evidence: ")
		b.WriteString(entityRefs(result, c.Evidence))
		b.WriteString("\n\n")
	}
}

func writeRecommendations(b *strings.Builder, result *domain.AnalysisResult) {
	b.WriteString("## Recommendations\n\n")
	if len(result.Recommendations) == 0 {
		b.WriteString("No follow-up action was derived.\n\n")
		return
	}
	b.WriteString("| Priority | Action | Detail | Rationale |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, rec := range result.Recommendations {
		fmt.Fprintf(b, "| %d | %s | %s | %s |\n",
			rec.Priority, rec.Action, cell(rec.Detail), entityRefs(result, rec.Rationale))
	}
	b.WriteString("\n")
}

func writeTreatment(b *strings.Builder, result *domain.AnalysisResult) {
	plan := result.Treatment
	if plan == nil {
		return
	}
	b.WriteString("## Treatment options\n\n")
	fmt.Fprintf(b, "**Stage:** %s\n\n", strings.ReplaceAll(plan.Stage, "_", " "))
	fmt.Fprintf(b, "%s\n\n", cell(plan.Justification))
	b.WriteString("| Modality | Options |\n")
	b.WriteString("|---|---|\n")
	for _, m := range plan.Modalities {
		fmt.Fprintf(b, "| %s | %s |\n", strings.ReplaceAll(m.Modality, "_", " "), cell(strings.Join(m.Options, "; ")))
	}
	b.WriteString("\nBased on: ")
	b.WriteString(entityRefs(result, plan.Rationale))
	b.WriteString("\n\n")
}

func writeEntities(b *strings.Builder, result *domain.AnalysisResult) {
	b.WriteString("## Entities\n\n")
	if len(result.Entities) == 0 {
		b.WriteString("No entities were recognized.\n\n")
		return
	}
	b.WriteString("| # | Type | Value | Section | Confidence |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for i, e := range result.Entities {
		section := ""
		if e.Section >= 0 && e.Section < len(result.Sections) {
			section = string(result.Sections[e.Section].Name)
		}
		fmt.Fprintf(b, "| %d | %s | %s | %s | %.2f |\n", i, e.Type, cell(e.Value), section, e.Confidence)
	}
	b.WriteString("\n")
}

func writeSections(b *strings.Builder, result *domain.AnalysisResult) {
	b.WriteString("## Sections\n\n")
	for _, s := range result.Sections {
		fmt.Fprintf(b, "- %s [%d, %d)\n", s.Name, s.Start, s.End)
	}
	b.WriteString("\n")
}

func writeWarnings(b *strings.Builder, result *domain.AnalysisResult) {
	if len(result.Warnings) == 0 {
		return
	}
	b.WriteString("## Warnings\n\n")
	for _, w := range result.Warnings {
		if w.Source != "" {
			fmt.Fprintf(b, "- **%s** (%s): %s\n", w.Code, cell(w.Source), cell(w.Message))
		} else {
			fmt.Fprintf(b, "- **%s**: %s\n", w.Code, cell(w.Message))
		}
	}
	b.WriteString("\n")
}

// entityRefs formats entity indices as "#i TYPE value".
func entityRefs(result *domain.AnalysisResult, indices []int) string {
	refs := make([]string, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(result.Entities) {
			continue
		}
		e := result.Entities[i]
		refs = append(refs, fmt.Sprintf("#%d %s %s", i, e.Type, cell(e.Value)))
	}
	if len(refs) == 0 {
		return "none"
	}
	return strings.Join(refs, "; ")
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r", " ", "\n", " ")

// cell escapes text for a single-line Markdown context.
func cell(s string) string {
	return cellEscaper.Replace(s)
}
