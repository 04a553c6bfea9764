package validators

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
)

var re = regexp.MustCompile

// testIssue reports a failed or errored test case as an error issue.
func testIssue(tc domain.TestCaseResult, file string) domain.Issue {
	code := "test-failure"
	verb := "failed"
	if tc.Status == domain.StatusError {
		code, verb = "test-error", "errored"
	}
	msg := fmt.Sprintf("%s %s", tc.ID, verb)
	if tc.Message != "" {
		msg += ": " + firstLine(tc.Message)
	}
	return domain.Issue{File: file, Severity: domain.SeverityError, Code: code, Message: msg}
}

// withTestIssues appends one issue per failed test to p.
func withTestIssues(p normalize.Parsed, fileOf func(domain.TestCaseResult) string) normalize.Parsed {
	for _, tc := range p.Tests {
		if tc.Status.IsFailure() {
			p.Issues = append(p.Issues, testIssue(tc, fileOf(tc)))
		}
	}
	return p
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// seconds converts tool-reported seconds to a millisecond-precision duration.
func seconds(f float64) time.Duration {
	return time.Duration(math.Round(f*1000)) * time.Millisecond
}

func joinOpt(flag string, values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return []string{flag + strings.Join(values, ",")}
}

func intOpt(flag string, opts normalize.Options, key string) []string {
	if !opts.Has(key) {
		return nil
	}
	return []string{fmt.Sprintf("%s%d", flag, opts.Int(key, 0))}
}

func strOpt(flag string, opts normalize.Options, key string) []string {
	if !opts.Has(key) {
		return nil
	}
	return []string{flag + opts.String(key, "")}
}

// extraArgs passes the free-form "args" option through.
func extraArgs(opts normalize.Options) []string {
	return opts.Strings("args")
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
