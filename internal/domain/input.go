package domain

import (
	"strings"
	"unicode/utf8"
)

// Limits applied to submitted input. MaxOutputTokens is bounded separately
// by the provider limit passed to Validate.
const (
	MaxExerciseRecordIDLength = 128
	MaxQuestionLength         = 20000
	MaxAnswerLength           = 5000
	MaxChoices                = 26
	MinTemperature            = 0.0
	MaxTemperature            = 2.0
)

// Choice is one selectable answer of a question.
type Choice struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question carries the question content supplied by the caller. The question
// bank itself lives elsewhere; this subsystem never fetches it.
type Question struct {
	Content       string   `json:"content"`
	Choices       []Choice `json:"choices,omitempty"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
	Subject       string   `json:"subject,omitempty"`
}

// GenerationParams are the sampling parameters forwarded to the provider.
type GenerationParams struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// InputContext is everything a generation needs. It is captured when a task
// is created and never changes afterwards.
type InputContext struct {
	Question      Question         `json:"question"`
	StudentAnswer string           `json:"student_answer"`
	Params        GenerationParams `json:"params"`
}

// Validate checks the input against the given output token ceiling and
// returns a *ValidationError listing every problem, or nil.
func (in InputContext) Validate(maxOutputTokensLimit int) error {
	v := &ValidationError{}

	if strings.TrimSpace(in.Question.Content) == "" {
		v.Add("question.content", "is required")
	} else if utf8.RuneCountInString(in.Question.Content) > MaxQuestionLength {
		v.Add("question.content", "is too long")
	}

	if len(in.Question.Choices) > MaxChoices {
		v.Add("question.choices", "has too many entries")
	}
	for _, c := range in.Question.Choices {
		if strings.TrimSpace(c.Text) == "" {
			v.Add("question.choices", "choice text cannot be empty")
			break
		}
	}

	if strings.TrimSpace(in.StudentAnswer) == "" {
		v.Add("student_answer", "is required")
	} else if utf8.RuneCountInString(in.StudentAnswer) > MaxAnswerLength {
		v.Add("student_answer", "is too long")
	}

	if in.Params.Temperature < MinTemperature || in.Params.Temperature > MaxTemperature {
		v.Add("temperature", "must be between 0 and 2")
	}

	if in.Params.MaxOutputTokens <= 0 {
		v.Add("max_output_tokens", "must be a positive integer")
	} else if maxOutputTokensLimit > 0 && in.Params.MaxOutputTokens > maxOutputTokensLimit {
		v.Add("max_output_tokens", "exceeds the provider limit")
	}

	return v.errOrNil()
}

// NormalizeExerciseRecordID returns the canonical form of a record
// identifier. Submissions and lookups must agree on it.
func NormalizeExerciseRecordID(id string) string {
	return strings.TrimSpace(id)
}

// ValidateExerciseRecordID checks the idempotency key of a submission.
func ValidateExerciseRecordID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return NewValidationError("exercise_record_id", "is required")
	case len(id) > MaxExerciseRecordIDLength:
		return NewValidationError("exercise_record_id", "is too long")
	}
	return nil
}

// ValidateSubmission validates a complete submission, collecting problems from
// both the record identifier and the input context into one ValidationError.
func ValidateSubmission(exerciseRecordID string, in InputContext, maxOutputTokensLimit int) error {
	v := &ValidationError{}
	var ve *ValidationError
	if err := ValidateExerciseRecordID(exerciseRecordID); err != nil && asValidation(err, &ve) {
		v.Fields = append(v.Fields, ve.Fields...)
	}
	if err := in.Validate(maxOutputTokensLimit); err != nil && asValidation(err, &ve) {
		v.Fields = append(v.Fields, ve.Fields...)
	}
	return v.errOrNil()
}

func asValidation(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
