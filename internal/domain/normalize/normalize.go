package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openkraft/anvil/internal/domain"
)

// ErrUnrecognized is returned by a strategy when the output is not in its format.
var ErrUnrecognized = errors.New("unrecognized output")

const (
	CodeUnparsed    = "unparsed-output"
	CodeToolFailure = "tool-failure"

	coarseLineLimit = 20
)

// ParseContext gives strategies what they need to resolve paths.
type ParseContext struct {
	Tool    string
	WorkDir string
	Files   []string
	Options Options
}

// Strategy parses one output format.
type Strategy interface {
	Name() string
	Parse(out Output, pctx ParseContext) (Parsed, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(out Output, pctx ParseContext) (Parsed, error)
}

func (s StrategyFunc) Name() string { return s.Label }

func (s StrategyFunc) Parse(out Output, pctx ParseContext) (Parsed, error) {
	return s.Fn(out, pctx)
}

// Policy classifies exit codes. OK codes mean success, Findings codes
// mean the tool ran and reported problems; anything else is a tool failure.
type Policy struct {
	OK       []int
	Findings []int
}

// DefaultPolicy treats 0 as success and 1 as "issues found".
var DefaultPolicy = Policy{OK: []int{0}, Findings: []int{1}}

func (p Policy) isOK(code int) bool       { return contains(p.OK, code) }
func (p Policy) isFindings(code int) bool { return contains(p.Findings, code) }

// Outcome is the normalized result of one tool invocation.
type Outcome struct {
	Parsed
	Strategy    string
	Diagnostics []string
	Status      domain.Status
	Passed      bool
}

// Normalize applies the layered strategy: structured first, then text, then
// a single coarse issue. structured may be nil when the tool version has no
// structured format.
func Normalize(structured, text Strategy, out Output, pctx ParseContext, policy Policy) Outcome {
	out = out.Normalized()
	var oc Outcome

	switch {
	case out.Empty():
		oc.Strategy = "empty"
	default:
		oc.Parsed, oc.Strategy, oc.Diagnostics = parseLayered(structured, text, out, pctx, policy)
	}

	for i := range oc.Issues {
		oc.Issues[i] = Finalize(pctx.WorkDir, oc.Issues[i])
	}

	decide(&oc, out, pctx, policy)
	return oc
}

func parseLayered(structured, text Strategy, out Output, pctx ParseContext, policy Policy) (Parsed, string, []string) {
	var diags []string

	if structured != nil {
		p, err := safeParse(structured, out, pctx)
		if err == nil {
			return p, structured.Name(), diags
		}
		diags = append(diags, fmt.Sprintf("%s output could not be parsed (%v); falling back to text", structured.Name(), err))
	}

	if text != nil {
		p, err := safeParse(text, out, pctx)
		if err == nil {
			return p, text.Name(), diags
		}
		diags = append(diags, fmt.Sprintf("%s output could not be parsed (%v)", text.Name(), err))
	}

	severity := domain.SeverityWarning
	if !policy.isOK(out.ExitCode) {
		severity = domain.SeverityError
	}
	coarse := Parsed{Issues: []domain.Issue{coarseIssue(pctx.Tool, out, severity)}}
	return coarse, "coarse", diags
}

// safeParse shields the pipeline from a panicking strategy.
func safeParse(s Strategy, out Output, pctx ParseContext) (p Parsed, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = Parsed{}, fmt.Errorf("%w: %s panicked: %v", domain.ErrParseFailure, s.Name(), r)
		}
	}()
	return s.Parse(out, pctx)
}

func decide(oc *Outcome, out Output, pctx ParseContext, policy Policy) {
	okExit := policy.isOK(out.ExitCode)
	toolFailure := !okExit && !policy.isFindings(out.ExitCode)

	// An unexpected exit with nothing usable parsed collapses into one
	// synthetic issue describing the failure.
	if toolFailure && (oc.Strategy == "coarse" || oc.Strategy == "empty") {
		oc.Issues = []domain.Issue{{
			File:     "<" + toolName(pctx) + ">",
			Severity: domain.SeverityError,
			Code:     CodeToolFailure,
			Message:  fmt.Sprintf("%s exited with code %d%s", toolName(pctx), out.ExitCode, excerpt(out)),
		}}
		oc.Tests = nil
		oc.Status = domain.StatusError
		return
	}

	errorsFound := 0
	for _, is := range oc.Issues {
		if is.Severity == domain.SeverityError {
			errorsFound++
		}
	}
	failedTests := oc.FailedTests()

	// A failing exit code must never yield a silently passing result.
	if !okExit && errorsFound == 0 && failedTests == 0 {
		if policy.isFindings(out.ExitCode) && len(oc.Issues) > 0 {
			oc.Status = domain.StatusFailed
			return
		}
		oc.Issues = append(oc.Issues, domain.Issue{
			File:     "<" + toolName(pctx) + ">",
			Severity: domain.SeverityError,
			Code:     CodeUnparsed,
			Message:  fmt.Sprintf("%s exited with code %d without reporting parseable errors%s", toolName(pctx), out.ExitCode, excerpt(out)),
		})
		errorsFound++
	}

	if errorsFound > 0 || failedTests > 0 {
		oc.Status = domain.StatusFailed
		return
	}
	oc.Status = domain.StatusPassed
	oc.Passed = true
}

// Finalize makes an issue well-formed: repo-relative path, known severity,
// trimmed single-line-ending message.
func Finalize(workDir string, is domain.Issue) domain.Issue {
	is.File = NormalizePath(workDir, is.File)
	is.Severity = strings.ToLower(strings.TrimSpace(is.Severity))
	switch is.Severity {
	case domain.SeverityError, domain.SeverityWarning, domain.SeverityInfo:
	default:
		is.Severity = domain.SeverityInfo
	}
	is.Message = strings.TrimSpace(normalizeNewlines(is.Message))
	is.Suggestion = strings.TrimSpace(normalizeNewlines(is.Suggestion))
	if is.Line < 0 {
		is.Line = 0
	}
	if is.Column < 0 {
		is.Column = 0
	}
	return is
}

func coarseIssue(tool string, out Output, severity string) domain.Issue {
	name := tool
	if name == "" {
		name = "tool"
	}
	return domain.Issue{
		File:     "<" + name + ">",
		Severity: severity,
		Code:     CodeUnparsed,
		Message:  fmt.Sprintf("unparsed output from %s:\n%s", name, strings.Join(firstLines(out.Combined(), coarseLineLimit), "\n")),
	}
}

func excerpt(out Output) string {
	lines := firstLines(out.Combined(), 5)
	if len(lines) == 0 {
		return ""
	}
	return ":\n" + strings.Join(lines, "\n")
}

func firstLines(s string, n int) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

func toolName(pctx ParseContext) string {
	if pctx.Tool == "" {
		return "tool"
	}
	return pctx.Tool
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
