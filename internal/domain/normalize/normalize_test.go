package normalize_test

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pctx = normalize.ParseContext{Tool: "demo", WorkDir: "/repo", Files: []string{"a.py", "b.py"}}

var jsonStrategy = normalize.StrategyFunc{Label: "json", Fn: func(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	var items []struct {
		File string `json:"file"`
		Line int    `json:"line"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal([]byte(out.Stdout), &items); err != nil {
		return normalize.Parsed{}, err
	}
	var p normalize.Parsed
	for _, it := range items {
		p.Issues = append(p.Issues, domain.Issue{File: it.File, Line: it.Line, Severity: "error", Message: it.Msg})
	}
	return p, nil
}}

var textStrategy = normalize.LineParser{
	Rules: []normalize.LineRule{{
		Pattern: regexp.MustCompile(`^(.+?):(\d+): (.+)$`),
		Build: func(m []string, _ normalize.ParseContext) domain.Issue {
			return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Severity: "error", Message: m[3]}
		},
	}},
	Clean: []*regexp.Regexp{regexp.MustCompile(`^All clean`)},
}

func TestNormalize_StructuredFirst(t *testing.T) {
	out := normalize.Output{Stdout: `[{"file":"/repo/a.py","line":3,"msg":"bad"}]`, ExitCode: 1}
	oc := normalize.Normalize(jsonStrategy, textStrategy, out, pctx, normalize.DefaultPolicy)

	assert.Equal(t, "json", oc.Strategy)
	require.Len(t, oc.Issues, 1)
	assert.Equal(t, "a.py", oc.Issues[0].File)
	assert.Equal(t, domain.StatusFailed, oc.Status)
	assert.False(t, oc.Passed)
}

func TestNormalize_MalformedStructuredFallsBackToText(t *testing.T) {
	out := normalize.Output{Stdout: "{not json\r\nsrc/b.py:7: unused import\r\n", ExitCode: 1}
	oc := normalize.Normalize(jsonStrategy, textStrategy, out, pctx, normalize.DefaultPolicy)

	assert.Equal(t, "text", oc.Strategy)
	require.NotEmpty(t, oc.Issues)
	assert.Equal(t, "src/b.py", oc.Issues[0].File)
	assert.Equal(t, 7, oc.Issues[0].Line)
	assert.Equal(t, "unused import", oc.Issues[0].Message, "CRLF must be stripped")
	assert.NotEmpty(t, oc.Diagnostics)
}

func TestNormalize_UnparseableDegradesToCoarseIssue(t *testing.T) {
	out := normalize.Output{Stdout: "something odd happened\nand more", ExitCode: 0}
	oc := normalize.Normalize(jsonStrategy, textStrategy, out, pctx, normalize.DefaultPolicy)

	assert.Equal(t, "coarse", oc.Strategy)
	require.Len(t, oc.Issues, 1)
	assert.Equal(t, normalize.CodeUnparsed, oc.Issues[0].Code)
	assert.Equal(t, domain.SeverityWarning, oc.Issues[0].Severity)
	assert.Contains(t, oc.Issues[0].Message, "something odd happened")
}

func TestNormalize_MalformedWithFailingExitNeverPasses(t *testing.T) {
	out := normalize.Output{Stdout: "[{broken", ExitCode: 1}
	oc := normalize.Normalize(jsonStrategy, textStrategy, out, pctx, normalize.DefaultPolicy)

	assert.False(t, oc.Passed)
	require.NotEmpty(t, oc.Issues)
	assert.Equal(t, domain.SeverityError, oc.Issues[0].Severity)
}

func TestNormalize_EmptyOutputPasses(t *testing.T) {
	oc := normalize.Normalize(jsonStrategy, textStrategy, normalize.Output{}, pctx, normalize.DefaultPolicy)
	assert.True(t, oc.Passed)
	assert.Equal(t, domain.StatusPassed, oc.Status)
	assert.Empty(t, oc.Issues)
}

func TestNormalize_CleanMarkerPasses(t *testing.T) {
	oc := normalize.Normalize(nil, textStrategy, normalize.Output{Stdout: "All clean!"}, pctx, normalize.DefaultPolicy)
	assert.True(t, oc.Passed)
	assert.Equal(t, "text", oc.Strategy)
}

func TestNormalize_UnexpectedExitIsToolFailure(t *testing.T) {
	out := normalize.Output{Stderr: "Traceback (most recent call last):", ExitCode: 2}
	oc := normalize.Normalize(nil, textStrategy, out, pctx, normalize.DefaultPolicy)

	assert.Equal(t, domain.StatusError, oc.Status)
	require.Len(t, oc.Issues, 1)
	assert.Equal(t, normalize.CodeToolFailure, oc.Issues[0].Code)
	assert.Contains(t, oc.Issues[0].Message, "Traceback")
}

func TestNormalize_FailingExitWithoutIssuesAddsError(t *testing.T) {
	oc := normalize.Normalize(nil, textStrategy, normalize.Output{Stdout: "All clean", ExitCode: 1}, pctx, normalize.DefaultPolicy)
	assert.False(t, oc.Passed)
	require.Len(t, oc.Issues, 1)
	assert.Equal(t, domain.SeverityError, oc.Issues[0].Severity)
}

func TestNormalize_PanickingStrategyIsRecovered(t *testing.T) {
	boom := normalize.StrategyFunc{Label: "boom", Fn: func(normalize.Output, normalize.ParseContext) (normalize.Parsed, error) {
		panic("bad index")
	}}
	oc := normalize.Normalize(boom, textStrategy, normalize.Output{Stdout: "x.py:1: oops", ExitCode: 1}, pctx, normalize.DefaultPolicy)
	assert.Equal(t, "text", oc.Strategy)
	require.Len(t, oc.Issues, 1)
}

func TestLineParser_Unrecognized(t *testing.T) {
	_, err := textStrategy.Parse(normalize.Output{Stdout: "nothing here"}, pctx)
	assert.True(t, errors.Is(err, normalize.ErrUnrecognized))
}

func TestFinalize(t *testing.T) {
	is := normalize.Finalize("/repo", domain.Issue{File: `/repo/pkg\mod.py`, Severity: " WARNING ", Message: " x\r\n", Line: -1})
	assert.Equal(t, "pkg/mod.py", is.File)
	assert.Equal(t, domain.SeverityWarning, is.Severity)
	assert.Equal(t, "x", is.Message)
	assert.Equal(t, 0, is.Line)

	assert.Equal(t, domain.SeverityInfo, normalize.Finalize("", domain.Issue{Severity: "convention"}).Severity)
}

func TestNormalize_FindingsExitWithWarningsFails(t *testing.T) {
	warnOnly := normalize.LineParser{Rules: []normalize.LineRule{{
		Pattern: regexp.MustCompile(`^(.+?):(\d+): (.+)$`),
		Build: func(m []string, _ normalize.ParseContext) domain.Issue {
			return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Severity: "warning", Message: m[3]}
		},
	}}}
	policy := normalize.Policy{OK: []int{0}, Findings: []int{3}}
	oc := normalize.Normalize(nil, warnOnly, normalize.Output{Stdout: "a.py:4: unused variable 'x'", ExitCode: 3}, pctx, policy)

	assert.Equal(t, domain.StatusFailed, oc.Status)
	assert.False(t, oc.Passed)
	require.Len(t, oc.Issues, 1)
	assert.Equal(t, domain.SeverityWarning, oc.Issues[0].Severity)
}
