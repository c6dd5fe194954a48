package model

import "time"

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "single-choice"
	QuestionTypeMultipleChoice QuestionType = "multiple-choice"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeShortAnswer    QuestionType = "short-answer"
)

// IsChoice reports whether answers to this question type are option indices.
func (t QuestionType) IsChoice() bool {
	return t == QuestionTypeSingleChoice || t == QuestionTypeMultipleChoice
}

// Question is a single assessment question as served by the assessment service.
type Question struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Options []string     `json:"options,omitempty"`
	Points  float64      `json:"points"`
}

// SecurityPolicy holds the anti-cheat switches configured for an assessment.
type SecurityPolicy struct {
	PreventCopyPaste bool `json:"preventCopyPaste"`
	PreventTabSwitch bool `json:"preventTabSwitch"`
	PreventSkip      bool `json:"preventSkip"`
	FullscreenMode   bool `json:"fullscreenMode"`
}

// AssessmentDefinition is the full question set and policy for one assessment.
// JSON field names follow the assessment service contract.
type AssessmentDefinition struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	DurationMinutes int            `json:"duration"`
	Questions       []Question     `json:"questions"`
	PassingScore    float64        `json:"passingScore"`
	SecurityPolicy  SecurityPolicy `json:"securityPolicy"`
}

// DurationSeconds returns the session length in whole seconds.
func (a *AssessmentDefinition) DurationSeconds() int {
	return a.DurationMinutes * 60
}

// QuestionIndex returns the position of questionID, or -1.
func (a *AssessmentDefinition) QuestionIndex(questionID string) int {
	for i := range a.Questions {
		if a.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// AssessmentSummary is an entry of GET /assessments/mine.
type AssessmentSummary struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	DurationMinutes int              `json:"duration"`
	QuestionCount   int              `json:"questionCount"`
	PassingScore    float64          `json:"passingScore"`
	DueDate         *time.Time       `json:"dueDate,omitempty"`
	Status          SubmissionStatus `json:"status,omitempty"`
}

// SubmissionStatus enumerates the remote state of a user's submission.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in-progress"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
	SubmissionStatusGraded     SubmissionStatus = "graded"
)

// IsFinal reports whether no more answers are accepted for the submission.
func (s SubmissionStatus) IsFinal() bool {
	return s == SubmissionStatusSubmitted || s == SubmissionStatusGraded
}

// Submission is a (possibly partial) attempt stored by the assessment service.
type Submission struct {
	ID        string            `json:"id"`
	Status    SubmissionStatus  `json:"status"`
	StartedAt *time.Time        `json:"startedAt,omitempty"`
	Answers   map[string]Answer `json:"answers,omitempty"`
}

// StartResponse is the body of POST /assessments/{id}/start.
type StartResponse struct {
	Assessment AssessmentDefinition `json:"assessment"`
	Submission *Submission          `json:"submission,omitempty"`
}

// SaveAnswerRequest is the body of POST /assessments/{id}/answers.
type SaveAnswerRequest struct {
	QuestionID string `json:"questionId"`
	Answer     Answer `json:"answer"`
}

// SubmitRequest is the body of POST /assessments/{id}/submit.
type SubmitRequest struct {
	Reason     SubmitReason      `json:"reason"`
	TimeSpent  int               `json:"timeSpent"`
	Answers    map[string]Answer `json:"answers"`
	Warnings   []LogEntry        `json:"warnings"`
	Violations []LogEntry        `json:"violations"`
}

// SubmitResult is the final result returned by the assessment service.
type SubmitResult struct {
	SubmissionID string           `json:"submissionId,omitempty"`
	Status       SubmissionStatus `json:"status"`
	Score        *float64         `json:"score,omitempty"`
	Passed       *bool            `json:"passed,omitempty"`
	TimeSpent    int              `json:"timeSpent"`
}
