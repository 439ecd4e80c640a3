// Package iterationloop implements bounded self-iteration: the same prompt
// is resubmitted until the model's output contains a matching
// <promise>...</promise> tag or a maximum iteration count is reached.
package iterationloop

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reason reports why a loop stopped.
type Reason string

const (
	PromiseDetected Reason = "PromiseDetected"
	MaxIterations   Reason = "MaxIterations"
	UserInterrupt   Reason = "UserInterrupt"
	FatalError      Reason = "FatalError"
)

// State is the loop's persisted progress, written as a plain YAML document to
// StatePath after every iteration that continues the loop, so a loop in
// flight is visible to other processes.
type State struct {
	Iteration         int       `yaml:"iteration"`
	MaxIterations     int       `yaml:"max_iterations"`
	CompletionPromise string    `yaml:"completion_promise"`
	DelaySeconds      int       `yaml:"delay_seconds"`
	OriginalPrompt    string    `yaml:"original_prompt"`
	StartedAt         time.Time `yaml:"started_at"`
}

// Result reports how a Run call ended.
type Result struct {
	TotalIterations int
	Reason          Reason
}

// SubmitFunc resubmits the original prompt and returns the turn's final
// assistant message.
type SubmitFunc func(ctx context.Context, prompt string) (lastMessage string, err error)

// Loop drives one self-iteration session, persisting its state to StatePath.
type Loop struct {
	StatePath string
	state     State
}

// New creates a Loop. maxIterations of 0 means unlimited.
func New(statePath, prompt, completionPromise string, maxIterations, delaySeconds int) *Loop {
	return &Loop{
		StatePath: statePath,
		state: State{
			MaxIterations:     maxIterations,
			CompletionPromise: completionPromise,
			DelaySeconds:      delaySeconds,
			OriginalPrompt:    prompt,
			StartedAt:         time.Now(),
		},
	}
}

// Run resubmits the original prompt via submit until the promise is
// detected, the iteration cap is hit, the context is cancelled, or submit
// returns an error. The state file is removed once the loop stops for any
// reason — it exists only for visibility while the loop is in flight.
func (l *Loop) Run(ctx context.Context, submit SubmitFunc) (Result, error) {
	defer l.cleanup()

	if err := l.persist(); err != nil {
		return Result{}, fmt.Errorf("iterationloop: write initial state: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return Result{TotalIterations: l.state.Iteration, Reason: UserInterrupt}, err
		}

		lastMessage, err := submit(ctx, l.state.OriginalPrompt)
		if err != nil {
			return Result{TotalIterations: l.state.Iteration, Reason: FatalError}, err
		}
		l.state.Iteration++

		if reason, done := l.onTaskComplete(lastMessage); done {
			return Result{TotalIterations: l.state.Iteration, Reason: reason}, nil
		}

		if err := l.persist(); err != nil {
			return Result{TotalIterations: l.state.Iteration, Reason: FatalError}, fmt.Errorf("iterationloop: persist state: %w", err)
		}

		if l.state.DelaySeconds > 0 {
			select {
			case <-ctx.Done():
				return Result{TotalIterations: l.state.Iteration, Reason: UserInterrupt}, ctx.Err()
			case <-time.After(time.Duration(l.state.DelaySeconds) * time.Second):
			}
		}
	}
}

// onTaskComplete implements the single on_task_complete continuation path:
// a promise match or the iteration cap stop the loop; anything else
// resubmits.
func (l *Loop) onTaskComplete(lastMessage string) (Reason, bool) {
	if matchesPromise(lastMessage, l.state.CompletionPromise) {
		return PromiseDetected, true
	}
	if l.state.MaxIterations > 0 && l.state.Iteration >= l.state.MaxIterations {
		return MaxIterations, true
	}
	return "", false
}

var promiseTag = regexp.MustCompile(`(?s)<promise>\s*(.*?)\s*</promise>`)

// matchesPromise reports whether message contains a <promise> tag whose
// content matches want after whitespace normalization.
func matchesPromise(message, want string) bool {
	if want == "" {
		return false
	}
	m := promiseTag.FindStringSubmatch(message)
	if m == nil {
		return false
	}
	return normalizeWhitespace(m[1]) == normalizeWhitespace(want)
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (l *Loop) persist() error {
	data, err := yaml.Marshal(l.state)
	if err != nil {
		return err
	}
	return os.WriteFile(l.StatePath, data, 0600)
}

func (l *Loop) cleanup() {
	if err := os.Remove(l.StatePath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "iterationloop: failed to remove state file %s: %v\n", l.StatePath, err)
	}
}

// LoadState reads a loop's state file, for displaying progress of a loop
// running in another process.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
