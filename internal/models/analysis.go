package models

// Analysis data source tags, indicating scoring confidence to the caller.
const (
	AnalysisSourceRealConversation = "real_conversation"
	AnalysisSourceAPIConversation  = "api_conversation"
	AnalysisSourceProvidedData     = "provided_data"
	AnalysisSourceFallback         = "fallback_enhanced"
)

// AnswerAnalysis scores a single answer in the interview.
type AnswerAnalysis struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// AnalysisReport is the interview score report. Derived, never persisted.
type AnalysisReport struct {
	OverallScore    int              `json:"overallScore"`
	Pace            int              `json:"pace"`
	FillerWords     int              `json:"fillerWords"`
	Clarity         int              `json:"clarity"`
	EyeContact      int              `json:"eyeContact"`
	Posture         int              `json:"posture"`
	AnswerAnalysis  []AnswerAnalysis `json:"answerAnalysis"`
	Summary         string           `json:"summary"`
	Recommendations []string         `json:"recommendations"`
	DataSource      string           `json:"dataSource"`
}
