package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// console renders a session on a terminal and receives controller
// notifications.
type console struct {
	mu   sync.Mutex
	out  io.Writer
	done chan struct{}
	once sync.Once
}

func newConsole(out io.Writer) *console {
	return &console{out: out, done: make(chan struct{})}
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// OnTick announces whole minutes and the final ten seconds.
func (c *console) OnTick(remaining int) {
	switch {
	case remaining > 0 && remaining <= 10:
		c.printf("  %ds left\n", remaining)
	case remaining > 0 && remaining%60 == 0:
		c.printf("  %s left\n", formatRemaining(remaining))
	}
}

func (c *console) OnLogged(severity model.Severity, entry model.LogEntry) {
	c.printf("  [%s] %s\n", severity, entry.Message)
}

func (c *console) OnSubmitted(result *model.SubmitResult) {
	c.printf("\nSubmitted. Time spent: %s.\n", formatRemaining(result.TimeSpent))
	if result.Score != nil {
		c.printf("Score: %.1f\n", *result.Score)
	}
	if result.Passed != nil {
		verdict := "not passed"
		if *result.Passed {
			verdict = "passed"
		}
		c.printf("Result: %s\n", verdict)
	}
	c.once.Do(func() { close(c.done) })
}

func (c *console) help() {
	c.printf(`  a <answer>   answer the current question
               choice: option number, e.g. "a 2"; multiple: "a 1,3"
  n / p        next / previous question
  show         show the current question
  copy / paste simulate a clipboard shortcut
  s            submit
  q            leave without submitting
`)
}

func (c *console) showQuestion(def *model.AssessmentDefinition, state model.SessionState) {
	if len(def.Questions) == 0 {
		return
	}
	idx := state.CurrentQuestionIndex
	q := def.Questions[idx]

	var b strings.Builder
	fmt.Fprintf(&b, "\nQuestion %d of %d (%s, %s left)\n%s\n", idx+1, len(def.Questions), q.Type, formatRemaining(state.RemainingSeconds), q.Text)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, opt)
	}
	if a, ok := state.Answers[q.ID]; ok && !a.IsEmpty() {
		fmt.Fprintf(&b, "Your answer: %s\n", describeAnswer(&q, a))
	}
	c.printf("%s", b.String())
}

// parseAnswer reads console input for q. Option numbers are 1-based.
func parseAnswer(q *model.Question, input string) (model.Answer, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return model.Answer{}, fmt.Errorf("an answer is required")
	}

	switch q.Type {
	case model.QuestionTypeSingleChoice:
		n, err := strconv.Atoi(input)
		if err != nil {
			return model.Answer{}, fmt.Errorf("enter an option number")
		}
		return model.ChoiceAnswer(n - 1), nil
	case model.QuestionTypeMultipleChoice:
		var indices []int
		for _, part := range strings.Split(input, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return model.Answer{}, fmt.Errorf("enter option numbers separated by commas")
			}
			indices = append(indices, n-1)
		}
		return model.MultiChoiceAnswer(indices...), nil
	default:
		return model.TextAnswer(input), nil
	}
}

func describeAnswer(q *model.Question, a model.Answer) string {
	if !q.Type.IsChoice() {
		return a.String()
	}
	indices := a.Options
	if a.Option != nil {
		indices = []int{*a.Option}
	}
	var names []string
	for _, idx := range indices {
		if idx >= 0 && idx < len(q.Options) {
			names = append(names, q.Options[idx])
		}
	}
	return strings.Join(names, ", ")
}

func formatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
