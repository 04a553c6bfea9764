package validators

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/openkraft/anvil/internal/domain/registry"
)

// ---------------------------------------------------------------- flake8

func flake8Tool() Tool {
	return Tool{
		Name:           "flake8",
		Language:       "python",
		Kind:           registry.KindLint,
		Description:    "PEP 8 style and pyflakes checks",
		DefaultEnabled: true,
		Executable:     "flake8",
		VersionArgs:    []string{"--version"},
		FormatOption:   "json",
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("3.0"), Args: []string{"--format=json"}, Structured: normalize.StrategyFunc{Label: "flake8-json", Fn: parseFlake8JSON}},
		},
		Text: normalize.LineParser{
			Label: "flake8-text",
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?):(\d+):(\d+): ([A-Z]+\d+) (.*)$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Code: m[4], Severity: flake8Severity(m[4]), Message: m[5]}
				},
			}},
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat(
				intOpt("--max-line-length=", opts, "max_line_length"),
				joinOpt("--extend-ignore=", opts.Strings("ignore")),
				joinOpt("--select=", opts.Strings("select")),
				strOpt("--config=", opts, "config"),
				extraArgs(opts),
				formatArgs,
			)
			return normalize.Command{Name: "flake8", Args: fileArgs(args, req)}
		},
	}
}

func flake8Severity(code string) string {
	if code == "" {
		return domain.SeverityInfo
	}
	switch code[0] {
	case 'E', 'F':
		return domain.SeverityError
	case 'W', 'C', 'N', 'D':
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

func parseFlake8JSON(out normalize.Output, pctx normalize.ParseContext) (normalize.Parsed, error) {
	var byFile map[string][]struct {
		Code   string `json:"code"`
		Line   int    `json:"line_number"`
		Column int    `json:"column_number"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal([]byte(out.Stdout), &byFile); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	var p normalize.Parsed
	for _, file := range sortedKeys(byFile) {
		for _, v := range byFile[file] {
			p.Issues = append(p.Issues, domain.Issue{File: file, Line: v.Line, Column: v.Column, Code: v.Code, Severity: flake8Severity(v.Code), Message: v.Text})
		}
	}
	p.FilesChecked = len(pctx.Files)
	return p, nil
}

// ---------------------------------------------------------------- pylint

func pylintTool() Tool {
	return Tool{
		Name:           "pylint",
		Language:       "python",
		Kind:           registry.KindLint,
		Description:    "pylint static analysis",
		DefaultEnabled: false,
		Executable:     "pylint",
		VersionArgs:    []string{"--version"},
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("2.0"), Args: []string{"--output-format=json"}, Structured: normalize.StrategyFunc{Label: "pylint-json", Fn: parsePylintJSON}},
		},
		Text: normalize.LineParser{
			Label: "pylint-text",
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?):(\d+):(\d+): ([A-Z]\d+): (.*?)(?: \(([\w-]+)\))?$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Code: m[4], Severity: pylintSeverityFromID(m[4]), Message: m[5]}
				},
			}},
			Clean:  []*regexp.Regexp{re(`^Your code has been rated`)},
			Ignore: []*regexp.Regexp{re(`^\*{5,} Module `), re(`^-{5,}$`)},
		},
		// pylint exit codes are a bit mask of message categories; 32 is a usage error
		Policy:     normalize.Policy{OK: []int{0}, Findings: rangeInts(1, 31)},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat(
				joinOpt("--disable=", opts.Strings("disable")),
				strOpt("--rcfile=", opts, "rcfile"),
				intOpt("--max-line-length=", opts, "max_line_length"),
				extraArgs(opts),
				formatArgs,
			)
			return normalize.Command{Name: "pylint", Args: fileArgs(args, req)}
		},
	}
}

func pylintSeverity(msgType string) string {
	switch msgType {
	case "error", "fatal":
		return domain.SeverityError
	default:
		return domain.SeverityWarning
	}
}

func pylintSeverityFromID(id string) string {
	if strings.HasPrefix(id, "E") || strings.HasPrefix(id, "F") {
		return domain.SeverityError
	}
	return domain.SeverityWarning
}

func parsePylintJSON(out normalize.Output, pctx normalize.ParseContext) (normalize.Parsed, error) {
	var msgs []struct {
		Type      string `json:"type"`
		Path      string `json:"path"`
		Line      int    `json:"line"`
		Column    int    `json:"column"`
		Symbol    string `json:"symbol"`
		Message   string `json:"message"`
		MessageID string `json:"message-id"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &msgs); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	var p normalize.Parsed
	for _, m := range msgs {
		msg := m.Message
		if m.Symbol != "" {
			msg += " (" + m.Symbol + ")"
		}
		p.Issues = append(p.Issues, domain.Issue{File: m.Path, Line: m.Line, Column: m.Column, Code: m.MessageID, Severity: pylintSeverity(m.Type), Message: msg})
	}
	p.FilesChecked = len(pctx.Files)
	return p, nil
}

// ---------------------------------------------------------------- black

func blackTool() Tool {
	return Tool{
		Name:           "black",
		Language:       "python",
		Kind:           registry.KindFormat,
		Description:    "black formatting check",
		DefaultEnabled: true,
		Executable:     "black",
		VersionArgs:    []string{"--version"},
		Text: normalize.LineParser{
			Label:  "black-text",
			Stream: normalize.StreamBoth,
			Rules: []normalize.LineRule{
				{
					Pattern: re(`^would reformat (.+)$`),
					Build: func(m []string, _ normalize.ParseContext) domain.Issue {
						return domain.Issue{File: m[1], Severity: domain.SeverityError, Code: "format", Message: "file would be reformatted", Suggestion: "run black " + m[1]}
					},
				},
				{
					Pattern: re(`^error: cannot format (.+?): (.*)$`),
					Build: func(m []string, _ normalize.ParseContext) domain.Issue {
						return domain.Issue{File: m[1], Severity: domain.SeverityError, Code: "parse-error", Message: m[2]}
					},
				},
			},
			Clean:      []*regexp.Regexp{re(`^All done!`), re(`^Oh no!`), re(`files? (would be )?(left unchanged|reformatted)`)},
			CountFiles: true,
		},
		Policy:     normalize.Policy{OK: []int{0}, Findings: []int{1}},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, _ []string) normalize.Command {
			args := concat([]string{"--check"}, intOpt("--line-length=", opts, "line_length"), extraArgs(opts))
			return normalize.Command{Name: "black", Args: fileArgs(args, req)}
		},
	}
}

// ---------------------------------------------------------------- isort

func isortTool() Tool {
	return Tool{
		Name:           "isort",
		Language:       "python",
		Kind:           registry.KindFormat,
		Description:    "import ordering check",
		DefaultEnabled: true,
		Executable:     "isort",
		VersionArgs:    []string{"--version"},
		Text: normalize.LineParser{
			Label:  "isort-text",
			Stream: normalize.StreamBoth,
			Rules: []normalize.LineRule{{
				Pattern: re(`^ERROR: (.+?) Imports are incorrectly sorted`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Severity: domain.SeverityError, Code: "import-order", Message: "imports are incorrectly sorted and/or formatted", Suggestion: "run isort " + m[1]}
				},
			}},
			Clean:      []*regexp.Regexp{re(`^Skipped \d+ files`)},
			CountFiles: true,
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, _ []string) normalize.Command {
			args := concat([]string{"--check-only"}, strOpt("--profile=", opts, "profile"), extraArgs(opts))
			return normalize.Command{Name: "isort", Args: fileArgs(args, req)}
		},
	}
}

// ---------------------------------------------------------------- vulture

func vultureTool() Tool {
	return Tool{
		Name:           "vulture",
		Language:       "python",
		Kind:           registry.KindAnalysis,
		Description:    "dead code detection",
		DefaultEnabled: false,
		Executable:     "vulture",
		VersionArgs:    []string{"--version"},
		Text: normalize.LineParser{
			Label: "vulture-text",
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?):(\d+): (.+?) \((\d+)% confidence(?:, \d+ lines?)?\)$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Severity: domain.SeverityWarning, Code: "unused-code", Message: fmt.Sprintf("%s (%s%% confidence)", m[3], m[4])}
				},
			}},
			CountFiles: true,
		},
		// 3 means dead code was found
		Policy:     normalize.Policy{OK: []int{0}, Findings: []int{1, 3}},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, _ []string) normalize.Command {
			args := concat(intOpt("--min-confidence=", opts, "min_confidence"), extraArgs(opts))
			return normalize.Command{Name: "vulture", Args: fileArgs(args, req)}
		},
	}
}

// ---------------------------------------------------------------- pytest

func pytestTool() Tool {
	return Tool{
		Name:           "pytest",
		Language:       "python",
		Kind:           registry.KindTest,
		Description:    "pytest test suite",
		DefaultEnabled: true,
		Executable:     "pytest",
		VersionArgs:    []string{"--version"},
		FormatOption:   "json_report",
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("6.0"), Args: []string{"--json-report", "--json-report-file=" + normalize.ReportPlaceholder}, Structured: normalize.StrategyFunc{Label: "pytest-json", Fn: parsePytestJSON}},
		},
		Text: normalize.StrategyFunc{Label: "pytest-text", Fn: parsePytestText},
		// 5 means no tests were collected
		Policy: normalize.Policy{OK: []int{0, 5}, Findings: []int{1}},
		Post:   enforceCoverage,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := []string{"-rA", "-q"}
			for _, src := range opts.Strings("cov") {
				args = append(args, "--cov="+src)
			}
			if opts.Has("cov") {
				args = append(args, "--cov-report=term")
			}
			args = concat(args, extraArgs(opts), formatArgs)
			if len(req.Tests) > 0 {
				args = append(args, req.Tests...)
			} else {
				args = append(args, opts.Strings("paths")...)
			}
			return normalize.Command{Name: "pytest", Args: args}
		},
	}
}

var (
	pytestLine     = re(`^(PASSED|FAILED|ERROR|XPASS|XFAIL) (\S+)(?: - (.*))?$`)
	pytestSkipLine = re(`^SKIPPED \[\d+\] `)
	pytestSummary  = re(`^=*\s*(?:\d+ \w+(?:, )?)+.* in [\d.]+s`)
	pytestCoverage = re(`^TOTAL\s+(?:\d+\s+)+(\d+(?:\.\d+)?)%`)
)

func parsePytestText(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	var p normalize.Parsed
	recognized := false
	seen := make(map[string]bool)

	for _, line := range strings.Split(out.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if m := pytestCoverage.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				p.SetMeta("coverage", pct)
			}
			recognized = true
			continue
		}
		if pytestSkipLine.MatchString(line) || pytestSummary.MatchString(line) || strings.HasPrefix(line, "no tests ran") {
			recognized = true
			continue
		}
		m := pytestLine.FindStringSubmatch(line)
		if m == nil || seen[m[2]] {
			continue
		}
		seen[m[2]] = true
		recognized = true
		p.Tests = append(p.Tests, pytestCase(m[2], pytestStatus(m[1]), 0, m[3]))
	}
	if !recognized {
		return normalize.Parsed{}, normalize.ErrUnrecognized
	}
	return withTestIssues(p, pytestFile), nil
}

func pytestStatus(outcome string) domain.Status {
	switch strings.ToLower(outcome) {
	case "passed", "xfail", "xfailed":
		return domain.StatusPassed
	case "failed", "xpass", "xpassed":
		return domain.StatusFailed
	case "skipped":
		return domain.StatusSkipped
	default:
		return domain.StatusError
	}
}

func pytestCase(nodeID string, status domain.Status, dur float64, msg string) domain.TestCaseResult {
	suite, name, ok := strings.Cut(nodeID, "::")
	if !ok {
		name = nodeID
	}
	return domain.TestCaseResult{ID: nodeID, Suite: suite, Name: name, Status: status, Duration: seconds(dur), Message: msg}
}

func pytestFile(tc domain.TestCaseResult) string {
	if tc.Suite != "" {
		return tc.Suite
	}
	return "<pytest>"
}

type pytestPhase struct {
	Duration float64 `json:"duration"`
	Outcome  string  `json:"outcome"`
	Longrepr any     `json:"longrepr"`
}

func parsePytestJSON(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	var report struct {
		Summary map[string]any `json:"summary"`
		Tests   []struct {
			NodeID   string       `json:"nodeid"`
			Outcome  string       `json:"outcome"`
			Setup    *pytestPhase `json:"setup"`
			Call     *pytestPhase `json:"call"`
			Teardown *pytestPhase `json:"teardown"`
		} `json:"tests"`
	}
	if strings.TrimSpace(out.Report) == "" {
		return normalize.Parsed{}, fmt.Errorf("%w: empty json report", normalize.ErrUnrecognized)
	}
	if err := json.Unmarshal([]byte(out.Report), &report); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	if report.Summary == nil {
		return normalize.Parsed{}, fmt.Errorf("%w: report has no summary", normalize.ErrUnrecognized)
	}

	var p normalize.Parsed
	for _, t := range report.Tests {
		var dur float64
		var msg string
		for _, ph := range []*pytestPhase{t.Setup, t.Call, t.Teardown} {
			if ph == nil {
				continue
			}
			dur += ph.Duration
			if msg == "" && ph.Longrepr != nil && ph.Outcome != "passed" {
				msg = fmt.Sprint(ph.Longrepr)
			}
		}
		p.Tests = append(p.Tests, pytestCase(t.NodeID, pytestStatus(t.Outcome), dur, msg))
	}
	// the json report carries no coverage; keep it when the terminal report printed one
	if text, err := parsePytestText(out, normalize.ParseContext{}); err == nil {
		if cov, ok := text.Metadata["coverage"]; ok {
			p.SetMeta("coverage", cov)
		}
	}
	sort.SliceStable(p.Tests, func(i, j int) bool { return p.Tests[i].ID < p.Tests[j].ID })
	return withTestIssues(p, pytestFile), nil
}

// enforceCoverage fails the result when coverage is below the
// coverage_threshold option.
func enforceCoverage(res *domain.ValidationResult, opts normalize.Options) {
	threshold := opts.Float("coverage_threshold", 0)
	if threshold <= 0 {
		return
	}
	cov, ok := res.Metadata["coverage"].(float64)
	if !ok {
		return
	}
	if cov < threshold {
		res.AddIssue(domain.Issue{
			File:     "<coverage>",
			Severity: domain.SeverityError,
			Code:     "coverage-threshold",
			Message:  fmt.Sprintf("coverage %.1f%% is below the threshold of %.1f%%", cov, threshold),
		})
	}
}

func rangeInts(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
