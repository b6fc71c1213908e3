package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreport-mcp-server/internal/domain"
	"github.com/medreport-mcp-server/internal/knowledge"
)

var fixedClock = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testKnowledge(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.Default()
	require.NoError(t, err)
	return kb
}

func newTestAnalyzer(t *testing.T, opts ...AnalyzerOption) *Analyzer {
	t.Helper()
	opts = append([]AnalyzerOption{WithClock(fixedClock)}, opts...)
	return NewAnalyzer(testLogger(), testKnowledge(t), nil, opts...)
}

func findEntity(result *domain.AnalysisResult, t domain.EntityType, value string) int {
	for i, e := range result.Entities {
		if e.Type == t && e.Value == value {
			return i
		}
	}
	return -1
}

const suspiciousMassReport = "FINDINGS: Irregular spiculated mass, right breast, 1.2cm. IMPRESSION: Suspicious."

func TestAnalyzer_SuspiciousMass(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: suspiciousMassReport})
	require.NoError(t, err)

	require.Len(t, result.Sections, 2)
	assert.Equal(t, domain.SectionFindings, result.Sections[0].Name)
	assert.Equal(t, domain.SectionImpression, result.Sections[1].Name)
	assert.Equal(t, "mammography", result.ReportType)

	laterality := findEntity(result, domain.EntityLaterality, "right")
	measurement := findEntity(result, domain.EntityMeasurement, "1.2cm")
	spiculated := findEntity(result, domain.EntityLesionDescriptor, "spiculated")
	irregular := findEntity(result, domain.EntityLesionDescriptor, "irregular")
	assert.GreaterOrEqual(t, laterality, 0)
	assert.GreaterOrEqual(t, measurement, 0)
	assert.GreaterOrEqual(t, spiculated, 0)
	require.GreaterOrEqual(t, irregular, 0)

	assert.Equal(t, domain.BIRADS_4, result.Classification.Category)
	assert.InDelta(t, 0.6007, result.Classification.Confidence, 0.0001)
	assert.Contains(t, result.Classification.Evidence, measurement)
	assert.Contains(t, result.Classification.Evidence, irregular)

	assert.True(t, result.HasAction(domain.ActionBiopsy))
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "1.0.0+kb.2024.1", result.PipelineVersion)
	assert.Equal(t, fixedClock(), result.GeneratedAt)
}

func TestAnalyzer_NegationStopsAtComma(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{
		Text: "FINDINGS: No calcifications, irregular spiculated mass 15 mm in the right breast.",
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, findEntity(result, domain.EntityLesionDescriptor, "spiculated"), 0)
	assert.GreaterOrEqual(t, findEntity(result, domain.EntityLesionDescriptor, "irregular"), 0)
	assert.GreaterOrEqual(t, findEntity(result, domain.EntityMeasurement, "15mm"), 0)
	assert.Contains(t, []domain.Category{domain.BIRADS_4, domain.BIRADS_5}, result.Classification.Category)
	assert.True(t, result.HasAction(domain.ActionBiopsy))
}

func TestAnalyzer_GenericProfileCitesDescriptorAndMeasurement(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: suspiciousMassReport, ReportType: "generic"})
	require.NoError(t, err)
	assert.Equal(t, "generic", result.ReportType)

	measurement := findEntity(result, domain.EntityMeasurement, "1.2cm")
	irregular := findEntity(result, domain.EntityLesionDescriptor, "irregular")
	spiculated := findEntity(result, domain.EntityLesionDescriptor, "spiculated")
	require.GreaterOrEqual(t, measurement, 0)
	require.GreaterOrEqual(t, irregular, 0)
	require.GreaterOrEqual(t, spiculated, 0)

	assert.Equal(t, domain.BIRADS_4, result.Classification.Category)
	assert.Contains(t, result.Classification.Evidence, measurement)
	assert.Contains(t, result.Classification.Evidence, irregular)
}

func TestAnalyzer_NoRecognizableHeader(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	text := "The visit went as planned and the paperwork was filed."

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: text})
	require.NoError(t, err)

	require.Len(t, result.Sections, 1)
	assert.Equal(t, domain.SectionUnknown, result.Sections[0].Name)
	assert.Equal(t, 0, result.Sections[0].Start)
	assert.Equal(t, len(text), result.Sections[0].End)
	assert.Empty(t, result.Entities)

	assert.Equal(t, domain.CategoryUnknown, result.Classification.Category)
	assert.Equal(t, 0.0, result.Classification.Confidence)
	assert.Equal(t, []int{}, result.Classification.Evidence)

	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, domain.ActionManualReview, result.Recommendations[0].Action)
	assert.Equal(t, []int{}, result.Recommendations[0].Rationale)
}

func TestAnalyzer_InputErrors(t *testing.T) {
	analyzer := newTestAnalyzer(t, WithMaxReportBytes(64))

	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", domain.ErrEmptyReport},
		{"whitespace only", " \n\t \r\n", domain.ErrEmptyReport},
		{"byte order mark only", "\uFEFF\n", domain.ErrEmptyReport},
		{"nul bytes", "FINDINGS: mass\x00\x00", domain.ErrNotText},
		{"control characters", "\x01\x02\x03\x04 abc", domain.ErrNotText},
		{"too large", strings.Repeat("a", 65), domain.ErrReportTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: tt.text})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, domain.IsInputError(err))
			assert.True(t, errors.Is(err, tt.want), "expected %v, got %v", tt.want, err)
		})
	}
}

func TestAnalyzer_ConflictingMeasurements(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{
		Text: "FINDINGS: Mass measuring 12 mm, previously 15 mm.",
	})
	require.NoError(t, err)

	small := findEntity(result, domain.EntityMeasurement, "12mm")
	large := findEntity(result, domain.EntityMeasurement, "15mm")
	require.GreaterOrEqual(t, small, 0, "both measurements are retained")
	require.GreaterOrEqual(t, large, 0, "both measurements are retained")
	assert.Equal(t, result.Entities[small].Section, result.Entities[large].Section)

	// Equal confidence: the larger magnitude is selected.
	assert.Equal(t, domain.BIRADS_4, result.Classification.Category)
	assert.Contains(t, result.Classification.Evidence, large)
	assert.NotContains(t, result.Classification.Evidence, small)
}

func TestAnalyzer_Idempotent(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	raw := domain.RawReport{Text: suspiciousMassReport, ReportType: "Mammography"}

	first, err := analyzer.Analyze(context.Background(), raw)
	require.NoError(t, err)
	second, err := analyzer.Analyze(context.Background(), raw)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestAnalyzer_ProfileSelection(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	tests := []struct {
		reportType string
		want       string
	}{
		{"", "mammography"},
		{"mammographie", "mammography"},
		{"Breast Imaging", "mammography"},
		{"radiology", "generic"},
		{"unknown-modality", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.reportType, func(t *testing.T) {
			result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: suspiciousMassReport, ReportType: tt.reportType})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.ReportType)
		})
	}
}

var propertyReports = []string{
	suspiciousMassReport,
	"The visit went as planned and the paperwork was filed.",
	"Clinical history: screening.\n\nFINDINGS: Scattered fibroglandular density. No suspicious mass.\nIMPRESSION: Negative. BI-RADS 1.",
	"Patient ID: MRN-12345\nAge: 61\nFINDINGS: Possible asymmetry in the left UOQ.\nFINDINGS: Additional imaging is needed.\nIMPRESSION: BI-RADS 0.",
	"Date d'examen: 10/02/2024\nPatiente: Femme, 54 ans\n\nOBSERVATIONS:\nDensité mammaire de type C (hétérogène).\nSein droit: opacité nodulaire dans le QSE, mesurant 12 mm, à contours mal définis.\n\nCONCLUSION:\nClassification BI-RADS 4A. Une biopsie est conseillée.",
	"BI-RADS 2 and BI-RADS 3 both mentioned; female, male.",
}

func TestAnalyzer_StructuralProperties(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	for _, text := range propertyReports {
		result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: text})
		require.NoError(t, err)

		// Sections are ordered, contiguous and cover the normalized text.
		require.NotEmpty(t, result.Sections)
		assert.Equal(t, 0, result.Sections[0].Start)
		var covered strings.Builder
		for i, s := range result.Sections {
			if i > 0 {
				assert.Equal(t, result.Sections[i-1].End, s.Start)
			}
			assert.Equal(t, s.End-s.Start, len(s.Text))
			covered.WriteString(s.Text)
		}
		assert.Equal(t, covered.Len(), result.Sections[len(result.Sections)-1].End)

		// Entities lie inside their section and carry bounded confidence.
		for _, e := range result.Entities {
			require.Less(t, e.Section, len(result.Sections))
			s := result.Sections[e.Section]
			assert.True(t, s.Contains(e.Start, e.End), "entity %+v outside section %+v", e, s)
			assert.Greater(t, e.Confidence, 0.0)
			assert.LessOrEqual(t, e.Confidence, 1.0)
		}

		// Every reference resolves.
		for _, idx := range result.Classification.Evidence {
			assert.Less(t, idx, len(result.Entities))
		}
		for _, rec := range result.Recommendations {
			for _, idx := range rec.Rationale {
				assert.Less(t, idx, len(result.Entities))
			}
		}

		c := result.Classification
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
		assert.Equal(t, c.IsUnknown(), c.Confidence == 0)
		if c.IsUnknown() {
			assert.True(t, result.HasAction(domain.ActionManualReview))
		}
	}
}

func TestAnalyzer_AmbiguousSingularFields(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: "BI-RADS 2 and BI-RADS 3 both mentioned; female, male."})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, findEntity(result, domain.EntityAssessment, "2"), 0)
	assert.GreaterOrEqual(t, findEntity(result, domain.EntityAssessment, "3"), 0)

	var sources []string
	for _, w := range result.Warnings {
		if w.Code == domain.WarningAmbiguousEntity {
			sources = append(sources, w.Source)
		}
	}
	assert.ElementsMatch(t, []string{"BIRADS_ASSESSMENT", "SEX"}, sources)

	// Equal stated weights tie; the more severe category wins.
	assert.Equal(t, domain.BIRADS_3, result.Classification.Category)
	assert.InDelta(t, 0.5, result.Classification.Confidence, 0.0001)
}

type failingRecognizer struct{}

func (failingRecognizer) Name() string { return "remote_descriptor" }

func (failingRecognizer) Recognize(context.Context, domain.Section, int) ([]domain.Entity, error) {
	return nil, errors.New("inference backend unavailable")
}

type blockingRecognizer struct{}

func (blockingRecognizer) Name() string { return "slow_descriptor" }

func (blockingRecognizer) Recognize(ctx context.Context, _ domain.Section, _ int) ([]domain.Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAnalyzer_DegradedRecognizers(t *testing.T) {
	recognizers := append(NewPatternRecognizers(), failingRecognizer{}, blockingRecognizer{})
	analyzer := newTestAnalyzer(t, WithRecognizers(recognizers...), WithModelTimeout(20*time.Millisecond))

	result, err := analyzer.Analyze(context.Background(), domain.RawReport{Text: suspiciousMassReport})
	require.NoError(t, err)

	var degraded []string
	for _, w := range result.Warnings {
		if w.Code == domain.WarningRecognitionDegraded {
			degraded = append(degraded, w.Source)
		}
	}
	assert.ElementsMatch(t, []string{"remote_descriptor", "slow_descriptor"}, degraded)

	// Pattern coverage survives.
	assert.GreaterOrEqual(t, findEntity(result, domain.EntityMeasurement, "1.2cm"), 0)
	assert.Equal(t, -1, findEntity(result, domain.EntityLesionDescriptor, "spiculated"))
}

func TestAnalyzer_LowConfidenceAddsManualReview(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	// Five categories with comparable scores keep confidence under the threshold.
	result, err := analyzer.Analyze(context.Background(), domain.RawReport{
		Text: "FINDINGS: Benign calcifications. Probably benign finding. Architectural distortion. Spiculated margin. Focal asymmetry.",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BIRADS_2, result.Classification.Category)
	assert.Less(t, result.Classification.Confidence, 0.35)
	assert.True(t, result.HasAction(domain.ActionManualReview))

	var codes []string
	for _, w := range result.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Contains(t, codes, domain.WarningLowConfidence)
}

func TestAnalyzer_CancelledContext(t *testing.T) {
	analyzer := newTestAnalyzer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.Analyze(ctx, domain.RawReport{Text: suspiciousMassReport})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
