package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Answer is the value recorded for one question: a single option index,
// a set of option indices or free text. On the wire it is encoded as a
// JSON number, array or string respectively.
type Answer struct {
	Option  *int
	Options []int
	Text    *string
}

// ChoiceAnswer returns an answer selecting one option.
func ChoiceAnswer(index int) Answer {
	return Answer{Option: &index}
}

// MultiChoiceAnswer returns an answer selecting several options.
func MultiChoiceAnswer(indices ...int) Answer {
	return Answer{Options: append([]int{}, indices...)}
}

// TextAnswer returns a free-text answer.
func TextAnswer(text string) Answer {
	return Answer{Text: &text}
}

// IsEmpty reports whether the answer carries no selection or text.
func (a Answer) IsEmpty() bool {
	switch {
	case a.Option != nil:
		return false
	case a.Text != nil:
		return *a.Text == ""
	default:
		return len(a.Options) == 0
	}
}

// Equal reports whether two answers hold the same value.
func (a Answer) Equal(b Answer) bool {
	switch {
	case a.Option != nil || b.Option != nil:
		return a.Option != nil && b.Option != nil && *a.Option == *b.Option
	case a.Text != nil || b.Text != nil:
		return a.Text != nil && b.Text != nil && *a.Text == *b.Text
	default:
		return slices.Equal(a.Options, b.Options)
	}
}

func (a Answer) String() string {
	switch {
	case a.Option != nil:
		return fmt.Sprintf("%d", *a.Option)
	case a.Text != nil:
		return *a.Text
	default:
		return fmt.Sprint(a.Options)
	}
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Option != nil:
		return json.Marshal(*a.Option)
	case a.Text != nil:
		return json.Marshal(*a.Text)
	case a.Options != nil:
		return json.Marshal(a.Options)
	default:
		return []byte("null"), nil
	}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	*a = Answer{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.Text = &s
	case '[':
		var opts []int
		if err := json.Unmarshal(data, &opts); err != nil {
			return err
		}
		a.Options = opts
	default:
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.New("answer must be an option index, a list of option indices or text")
		}
		a.Option = &n
	}
	return nil
}
