// Package sandbox executes model-generated analysis code inside a
// constrained python3 subprocess: whitelisted modules, blocked patterns,
// restricted builtins, captured stdout/stderr, and PNG capture when a
// figure was drawn.
package sandbox

import (
	"errors"
	"regexp"
)

// ErrForbiddenCode is returned when code matches a blocked pattern. No
// retry is attempted for this class of failure.
var ErrForbiddenCode = errors.New("Code contains forbidden operations")

// AllowedModules is the import whitelist enforced both here and by the
// harness import hook.
var AllowedModules = map[string]struct{}{
	"pandas":            {},
	"numpy":             {},
	"matplotlib":        {},
	"matplotlib.pyplot": {},
	"seaborn":           {},
	"datetime":          {},
	"math":              {},
	"statistics":        {},
	"json":              {},
	"collections":       {},
	"re":                {},
}

// forbiddenPatterns are tokenized matchers rejected before anything runs.
// Word boundaries keep identifiers like "cost" or "execute_plan" legal.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*import\s+(os|sys|subprocess|socket|shutil|pathlib|glob|pickle|requests|urllib)\b`),
	regexp.MustCompile(`(?m)^\s*from\s+(os|sys|subprocess|socket|shutil|pathlib|glob|pickle|requests|urllib)\b`),
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bcompile\s*\(`),
	regexp.MustCompile(`\binput\s*\(`),
	regexp.MustCompile(`__import__`),
	regexp.MustCompile(`__builtins__`),
	regexp.MustCompile(`__globals__`),
	regexp.MustCompile(`__code__`),
}

// Validate rejects code containing any forbidden pattern.
func Validate(code string) error {
	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(code) {
			return ErrForbiddenCode
		}
	}
	return nil
}
