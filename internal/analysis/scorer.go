// Package analysis turns an interview transcript into a score report, using a
// generative model with a deterministic fallback scorer.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prepview/backend/internal/llm"
	"github.com/prepview/backend/internal/models"
)

// minTranscriptChars is the threshold below which a transcript is too thin for
// model scoring and the deterministic scorer runs instead.
const minTranscriptChars = 50

const scoringTimeout = 30 * time.Second

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Scorer produces analysis reports. A nil generator always scores
// deterministically.
type Scorer struct {
	generator Generator
	logger    *zap.Logger
}

// NewScorer creates a scorer. generator may be nil.
func NewScorer(generator Generator, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{generator: generator, logger: logger}
}

// Score produces a report for the transcript. Model scoring applies only when
// the transcript clears the minimum length; any model or parse failure falls
// back to the deterministic scorer, which cannot fail. dataSource is set by
// the caller afterwards except when the fallback runs, which tags itself.
func (s *Scorer) Score(ctx context.Context, transcript, jobTitle, userName string, answers []string) models.AnalysisReport {
	if s.generator != nil && len(strings.TrimSpace(transcript)) >= minTranscriptChars {
		report, err := s.scoreWithModel(ctx, transcript, jobTitle)
		if err == nil {
			return report
		}
		s.logger.Warn("model scoring failed, using deterministic scorer", zap.Error(err))
	}
	report := s.deterministic(transcript, jobTitle, userName, answers)
	report.DataSource = models.AnalysisSourceFallback
	return report
}

func buildScoringPrompt(transcript, jobTitle string) string {
	return fmt.Sprintf(`You are an interview coach. Score the following mock interview for the role of %s.

Transcript:
%s

Respond with ONLY a JSON object, no markdown, with exactly these fields:
{
  "overallScore": <0-100>,
  "pace": <0-100>,
  "fillerWords": <count of filler words used>,
  "clarity": <0-100>,
  "eyeContact": <0-100>,
  "posture": <0-100>,
  "answerAnalysis": [{"question": "...", "answer": "...", "score": <0-100>, "feedback": "..."}],
  "summary": "<2-3 sentence overall assessment>",
  "recommendations": ["<actionable advice>", ...]
}`, jobTitle, transcript)
}

func (s *Scorer) scoreWithModel(ctx context.Context, transcript, jobTitle string) (models.AnalysisReport, error) {
	ctx, cancel := context.WithTimeout(ctx, scoringTimeout)
	defer cancel()

	raw, err := s.generator.Generate(ctx, buildScoringPrompt(transcript, jobTitle))
	if err != nil {
		return models.AnalysisReport{}, err
	}
	var report models.AnalysisReport
	if err := json.Unmarshal([]byte(llm.CleanResponse(raw)), &report); err != nil {
		return models.AnalysisReport{}, fmt.Errorf("parse model output: %w", err)
	}
	normalize(&report)
	return report, nil
}

// normalize clamps scores and guarantees the report schema is fully populated
// regardless of what the model returned.
func normalize(r *models.AnalysisReport) {
	r.OverallScore = clamp(r.OverallScore)
	r.Pace = clamp(r.Pace)
	r.Clarity = clamp(r.Clarity)
	r.EyeContact = clamp(r.EyeContact)
	r.Posture = clamp(r.Posture)
	if r.FillerWords < 0 {
		r.FillerWords = 0
	}
	for i := range r.AnswerAnalysis {
		r.AnswerAnalysis[i].Score = clamp(r.AnswerAnalysis[i].Score)
	}
	if len(r.AnswerAnalysis) == 0 {
		r.AnswerAnalysis = []models.AnswerAnalysis{{
			Question: "Overall interview performance",
			Answer:   "See summary",
			Score:    r.OverallScore,
			Feedback: r.Summary,
		}}
	}
	if len(r.Recommendations) == 0 {
		r.Recommendations = []string{"Practice structuring answers with concrete examples."}
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

var fillerWords = []string{"um", "uh", "like", "basically", "actually", "literally"}

// deterministic scores from transcript surface features alone. It is
// reproducible for identical input and never fails.
func (s *Scorer) deterministic(transcript, jobTitle, userName string, answers []string) models.AnalysisReport {
	text := strings.ToLower(transcript)
	words := strings.Fields(text)

	fillers := 0
	for _, w := range words {
		trimmed := strings.Trim(w, ".,!?")
		for _, f := range fillerWords {
			if trimmed == f {
				fillers++
				break
			}
		}
	}

	// Longer answers earn a modest score bump, capped well below a model-backed
	// ceiling so thin data never reads as a strong interview.
	base := 60
	if len(words) > 100 {
		base = 70
	}
	if len(words) > 300 {
		base = 75
	}
	clarity := clamp(base + 5 - fillers)

	answerAnalysis := make([]models.AnswerAnalysis, 0, len(answers))
	for i, a := range answers {
		if strings.TrimSpace(a) == "" {
			continue
		}
		score := 60
		if len(strings.Fields(a)) > 30 {
			score = 70
		}
		answerAnalysis = append(answerAnalysis, models.AnswerAnalysis{
			Question: fmt.Sprintf("Question %d", i+1),
			Answer:   a,
			Score:    score,
			Feedback: "Good structure; add a concrete example and a measurable outcome.",
		})
	}
	if len(answerAnalysis) == 0 {
		answerAnalysis = []models.AnswerAnalysis{{
			Question: "Overall interview performance",
			Answer:   "Limited data was captured for this session.",
			Score:    base,
			Feedback: "Complete a full session so individual answers can be assessed.",
		}}
	}

	name := userName
	if name == "" {
		name = "The candidate"
	}
	summary := fmt.Sprintf(
		"%s completed a mock interview for the %s role. Detailed speech data was limited, so this report uses estimated scores.",
		name, jobTitle,
	)
	if len(words) > 100 {
		summary = fmt.Sprintf(
			"%s gave substantive responses in the %s mock interview, with %d filler words detected across %d words.",
			name, jobTitle, fillers, len(words),
		)
	}

	return models.AnalysisReport{
		OverallScore:   clamp(base),
		Pace:           clamp(base + 3),
		FillerWords:    fillers,
		Clarity:        clarity,
		EyeContact:     65,
		Posture:        70,
		AnswerAnalysis: answerAnalysis,
		Summary:        summary,
		Recommendations: []string{
			"Reduce filler words by pausing instead of vocalizing hesitation.",
			"Structure answers using situation, action and result.",
			"Keep answers under two minutes and invite follow-up questions.",
		},
	}
}
