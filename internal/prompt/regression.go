package prompt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/kakunin/internal/models"
)

// ExpectationKind is how a canonical case checks an output.
type ExpectationKind string

const (
	ExpectExact       ExpectationKind = "exact"
	ExpectContains    ExpectationKind = "contains"
	ExpectNotContains ExpectationKind = "not_contains"
	ExpectRegex       ExpectationKind = "regex"
)

// Expectation is one check on a canonical case output.
type Expectation struct {
	Kind  ExpectationKind `yaml:"kind" json:"kind"`
	Value string          `yaml:"value" json:"value"`
}

// Validate rejects unknown kinds and regexes that do not compile.
func (e Expectation) Validate() error {
	switch e.Kind {
	case ExpectExact, ExpectContains, ExpectNotContains:
		return nil
	case ExpectRegex:
		if _, err := regexp.Compile(e.Value); err != nil {
			return fmt.Errorf("%w: expectation regex %q: %v", models.ErrInvalidConfig, e.Value, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown expectation kind %q", models.ErrInvalidConfig, e.Kind)
	}
}

// Check reports whether output satisfies the expectation.
func (e Expectation) Check(output string) bool {
	switch e.Kind {
	case ExpectExact:
		return strings.TrimSpace(output) == strings.TrimSpace(e.Value)
	case ExpectContains:
		return strings.Contains(output, e.Value)
	case ExpectNotContains:
		return !strings.Contains(output, e.Value)
	case ExpectRegex:
		ok, err := regexp.MatchString(e.Value, output)
		return err == nil && ok
	default:
		return false
	}
}

// CanonicalCase is a fixed input and the checks its output must pass before a
// version can be promoted.
type CanonicalCase struct {
	ID        string                 `yaml:"id" json:"id"`
	Variables map[string]interface{} `yaml:"variables" json:"variables"`
	Expect    []Expectation          `yaml:"expect" json:"expect"`
}

// Runner turns a rendered prompt into the output the expectations are checked
// against. Production wires the generation adapter here.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, prompt string) (string, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// echoRunner returns the rendered prompt unchanged.
type echoRunner struct{}

func (echoRunner) Run(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}
