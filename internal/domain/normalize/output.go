// Package normalize turns raw tool output into domain issues.
package normalize

import (
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
)

// ReportPlaceholder in Command.Args is replaced with a temp file path
// whose contents come back as Output.Report.
const ReportPlaceholder = "{report}"

// Command is the exact subprocess invocation a normalizer builds.
type Command struct {
	Name       string   `json:"name"`
	Args       []string `json:"args"`
	Dir        string   `json:"dir"`
	ReportFile bool     `json:"report_file,omitempty"`
	Env        []string `json:"env,omitempty"`
}

// String renders the command for logs and diagnostics.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output is what a finished (or killed) subprocess left behind.
type Output struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Report   string        `json:"report,omitempty"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Normalized returns a copy with CRLF and lone CR line endings folded to LF.
func (o Output) Normalized() Output {
	o.Stdout = normalizeNewlines(o.Stdout)
	o.Stderr = normalizeNewlines(o.Stderr)
	o.Report = normalizeNewlines(o.Report)
	return o
}

// Empty reports whether the tool printed nothing at all.
func (o Output) Empty() bool {
	return strings.TrimSpace(o.Stdout) == "" &&
		strings.TrimSpace(o.Stderr) == "" &&
		strings.TrimSpace(o.Report) == ""
}

// Combined joins stdout and stderr.
func (o Output) Combined() string {
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	default:
		return o.Stdout + "\n" + o.Stderr
	}
}

// Parsed is what a strategy extracted from an Output.
type Parsed struct {
	Issues       []domain.Issue
	Tests        []domain.TestCaseResult
	FilesChecked int
	Metadata     map[string]any
}

// SetMeta stores a metadata value, allocating the map on first use.
func (p *Parsed) SetMeta(key string, v any) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = v
}

// FailedTests counts tests that failed or errored.
func (p Parsed) FailedTests() int {
	n := 0
	for _, tc := range p.Tests {
		if tc.Status.IsFailure() {
			n++
		}
	}
	return n
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
