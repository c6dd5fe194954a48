package proctor

import (
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// validateAnswer checks that a matches the shape expected by q.
func validateAnswer(q *model.Question, a model.Answer) error {
	switch q.Type {
	case model.QuestionTypeSingleChoice:
		if a.Option == nil {
			return fmt.Errorf("%w: %s expects one option index", ErrInvalidAnswer, q.ID)
		}
		return checkOption(q, *a.Option)

	case model.QuestionTypeMultipleChoice:
		if a.Option != nil || a.Text != nil {
			return fmt.Errorf("%w: %s expects a list of option indices", ErrInvalidAnswer, q.ID)
		}
		seen := make(map[int]bool, len(a.Options))
		for _, idx := range a.Options {
			if err := checkOption(q, idx); err != nil {
				return err
			}
			if seen[idx] {
				return fmt.Errorf("%w: %s option %d selected twice", ErrInvalidAnswer, q.ID, idx)
			}
			seen[idx] = true
		}
		return nil

	case model.QuestionTypeEssay, model.QuestionTypeShortAnswer:
		if a.Text == nil {
			return fmt.Errorf("%w: %s expects text", ErrInvalidAnswer, q.ID)
		}
		return nil
	}

	// Unknown question types are passed through to the service untouched.
	if a.Option == nil && a.Text == nil && a.Options == nil {
		return fmt.Errorf("%w: %s empty answer", ErrInvalidAnswer, q.ID)
	}
	return nil
}

func checkOption(q *model.Question, idx int) error {
	if idx < 0 || idx >= len(q.Options) {
		return fmt.Errorf("%w: %s option %d out of range", ErrInvalidAnswer, q.ID, idx)
	}
	return nil
}
