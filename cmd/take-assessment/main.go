package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// Logs go to stderr so they do not interleave with the prompt.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== ExStem Assessment ===")

	// ─── Token ─────────────────────────────────────────────────────────
	token := os.Getenv("ASSESSMENT_TOKEN")
	if token == "" {
		fmt.Print("Enter access token: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading token")
			return
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		fmt.Println("Error: token is required")
		return
	}

	client := assessment.NewClient(cfg.AssessmentServiceURL, cfg.AssessmentServiceTimeout, log).WithToken(token)

	// ─── Pick Assessment ───────────────────────────────────────────────
	items, err := client.ListMine(ctx)
	if err != nil {
		fmt.Printf("Error: could not list assessments: %v\n", err)
		return
	}
	if len(items) == 0 {
		fmt.Println("No assessments are assigned to you.")
		return
	}

	for i, a := range items {
		status := "available"
		if a.Status != "" {
			status = string(a.Status)
		}
		fmt.Printf("  %d. %s (%d min, %d questions) [%s]\n", i+1, a.Title, a.DurationMinutes, a.QuestionCount, status)
	}
	fmt.Print("Choose an assessment: ")
	choice, _ := reader.ReadString('\n')
	n, err := strconv.Atoi(strings.TrimSpace(choice))
	if err != nil || n < 1 || n > len(items) {
		fmt.Println("Error: invalid choice")
		return
	}

	// ─── Run Session ───────────────────────────────────────────────────
	ui := newConsole(os.Stdout)
	ctrl := proctor.New(proctor.Options{
		Service:    client,
		Fullscreen: proctor.NoopFullscreen{},
		Listener:   ui,
		Retry: proctor.RetryPolicy{
			MaxRetries:      cfg.SubmitMaxRetries,
			InitialInterval: cfg.SubmitRetryInitial,
			MaxInterval:     cfg.SubmitRetryMax,
		},
		TickInterval: cfg.TickInterval,
		Logger:       log,
	})
	defer ctrl.Close()

	if err := ctrl.Start(ctx, items[n-1].ID); err != nil {
		switch {
		case errors.Is(err, proctor.ErrNotFound):
			fmt.Println("Error: assessment not found")
		case errors.Is(err, proctor.ErrAlreadyCompleted):
			fmt.Println("You have already completed this assessment.")
		default:
			fmt.Printf("Error: %v\n", err)
		}
		return
	}

	def := ctrl.Definition()
	fmt.Printf("\n%s: %d questions, %d minutes. Type 'h' for help.\n", def.Title, len(def.Questions), def.DurationMinutes)
	ui.showQuestion(def, ctrl.Snapshot().State)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(reader)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ui.done:
			return

		case <-quit:
			fmt.Println("\nLeaving the assessment, submitting your answers...")
			submit(ctx, ctrl, model.SubmitReasonNavigationExit)
			return

		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(ctx, ctrl, ui, def, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handleCommand runs one console command. It returns false when the session
// should end.
func handleCommand(ctx context.Context, ctrl *proctor.Controller, ui *console, def *model.AssessmentDefinition, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return true
	case "h", "help":
		ui.help()
	case "show":
		ui.showQuestion(def, ctrl.Snapshot().State)
	case "a", "answer":
		state := ctrl.Snapshot().State
		q := def.Questions[state.CurrentQuestionIndex]
		answer, err := parseAnswer(&q, arg)
		if err != nil {
			fmt.Printf("  %v\n", err)
			return true
		}
		if err := ctrl.RecordAnswer(q.ID, answer); err != nil {
			fmt.Printf("  %v\n", err)
			return true
		}
		fmt.Println("  Saved.")
	case "n", "next", "p", "prev":
		dir := model.DirectionForward
		if cmd == "p" || cmd == "prev" {
			dir = model.DirectionBackward
		}
		if _, err := ctrl.Advance(dir); err != nil {
			if errors.Is(err, proctor.ErrUnansweredQuestion) {
				fmt.Println("  Answer this question before moving on.")
			} else {
				fmt.Printf("  %v\n", err)
			}
			return true
		}
		ui.showQuestion(def, ctrl.Snapshot().State)
	case "copy", "paste":
		kind := model.EventCopyAttempt
		if cmd == "paste" {
			kind = model.EventPasteAttempt
		}
		if sev, err := ctrl.MonitorEvent(kind); err == nil && sev == "" {
			fmt.Println("  Clipboard is allowed for this assessment.")
		}
	case "s", "submit":
		submit(ctx, ctrl, model.SubmitReasonManual)
		return ctrl.Status() != model.SessionStatusTerminal
	case "q", "quit":
		fmt.Println("Leaving without submitting. Your answers are kept and restored next time.")
		return false
	default:
		fmt.Printf("  Unknown command %q. Type 'h' for help.\n", cmd)
	}
	return true
}

func submit(ctx context.Context, ctrl *proctor.Controller, reason model.SubmitReason) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if _, err := ctrl.Submit(ctx, reason); err != nil {
		if errors.Is(err, proctor.ErrSubmitFailed) {
			fmt.Println("  Submission failed. Type 's' to try again.")
			return
		}
		fmt.Printf("  %v\n", err)
	}
}
