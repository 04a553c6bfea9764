package validators

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/openkraft/anvil/internal/domain/registry"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------- cppcheck

func cppcheckTool() Tool {
	return Tool{
		Name:           "cppcheck",
		Language:       "cpp",
		Kind:           registry.KindAnalysis,
		Description:    "cppcheck static analysis",
		DefaultEnabled: true,
		Executable:     "cppcheck",
		VersionArgs:    []string{"--version"},
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("1.61"), Args: []string{"--xml", "--xml-version=2"}, Structured: normalize.StrategyFunc{Label: "cppcheck-xml", Fn: parseCppcheckXML}},
		},
		Text: normalize.LineParser{
			Label:  "cppcheck-text",
			Stream: normalize.StreamStderr,
			Rules: []normalize.LineRule{
				{
					Pattern: re(`^\[(.+?):(\d+)\]: \((\w+)\) (.*)$`),
					Build: func(m []string, _ normalize.ParseContext) domain.Issue {
						return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Severity: cppcheckSeverity(m[3]), Code: m[3], Message: m[4]}
					},
				},
				{
					Pattern: re(`^(.+?):(\d+):(\d+): (\w+): (.*?) \[(\w+)\]$`),
					Build: func(m []string, _ normalize.ParseContext) domain.Issue {
						return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Severity: cppcheckSeverity(m[4]), Code: m[6], Message: m[5]}
					},
				},
			},
			CountFiles: true,
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			enable := opts.Strings("enable")
			if len(enable) == 0 {
				enable = []string{"warning", "style", "performance", "portability"}
			}
			args := concat(
				[]string{"--quiet", "--error-exitcode=1", "--enable=" + strings.Join(enable, ",")},
				strOpt("--std=", opts, "std"),
				joinOpt("--suppress=", opts.Strings("suppress")),
				extraArgs(opts),
				formatArgs,
			)
			return normalize.Command{Name: "cppcheck", Args: fileArgs(args, req)}
		},
	}
}

func cppcheckSeverity(s string) string {
	switch s {
	case "error":
		return domain.SeverityError
	case "warning", "performance", "portability":
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}

func parseCppcheckXML(out normalize.Output, pctx normalize.ParseContext) (normalize.Parsed, error) {
	var doc struct {
		XMLName xml.Name `xml:"results"`
		Errors  []struct {
			ID        string `xml:"id,attr"`
			Severity  string `xml:"severity,attr"`
			Msg       string `xml:"msg,attr"`
			Verbose   string `xml:"verbose,attr"`
			Locations []struct {
				File   string `xml:"file,attr"`
				Line   int    `xml:"line,attr"`
				Column int    `xml:"column,attr"`
			} `xml:"location"`
		} `xml:"errors>error"`
	}
	if !strings.Contains(out.Stderr, "<results") {
		return normalize.Parsed{}, normalize.ErrUnrecognized
	}
	if err := xml.Unmarshal([]byte(out.Stderr), &doc); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	var p normalize.Parsed
	for _, e := range doc.Errors {
		// the checker summary is not a finding
		if e.ID == "checkersReport" {
			continue
		}
		is := domain.Issue{Severity: cppcheckSeverity(e.Severity), Code: e.ID, Message: e.Msg}
		if len(e.Locations) > 0 {
			is.File, is.Line, is.Column = e.Locations[0].File, e.Locations[0].Line, e.Locations[0].Column
		} else {
			is.File = "<cppcheck>"
		}
		if e.Verbose != "" && e.Verbose != e.Msg {
			is.Suggestion = e.Verbose
		}
		p.Issues = append(p.Issues, is)
	}
	p.FilesChecked = len(pctx.Files)
	return p, nil
}

// ---------------------------------------------------------------- clang-tidy

func clangTidyTool() Tool {
	return Tool{
		Name:           "clang-tidy",
		Language:       "cpp",
		Kind:           registry.KindAnalysis,
		Description:    "clang-tidy lint checks",
		DefaultEnabled: false,
		Executable:     "clang-tidy",
		VersionArgs:    []string{"--version"},
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("9.0"), Args: []string{"--export-fixes=" + normalize.ReportPlaceholder}, Structured: normalize.StrategyFunc{Label: "clang-tidy-yaml", Fn: parseClangTidyYAML}},
		},
		Text: normalize.LineParser{
			Label: "clang-tidy-text",
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?):(\d+):(\d+): (warning|error): (.*?)(?: \[([\w.,-]+)\])?$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Severity: m[4], Code: m[6], Message: m[5]}
				},
			}},
			Clean:  []*regexp.Regexp{re(`^\d+ warnings? (and \d+ errors? )?generated`), re(`^Suppressed \d+ warnings`)},
			Ignore: []*regexp.Regexp{re(`: note: `), re(`^Use -header-filter`)},
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat(
				joinOpt("--checks=", opts.Strings("checks")),
				strOpt("-p=", opts, "build_path"),
				extraArgs(opts),
				formatArgs,
			)
			args = fileArgs(args, req)
			if !opts.Has("build_path") {
				args = append(args, "--")
			}
			return normalize.Command{Name: "clang-tidy", Args: args}
		},
	}
}

func parseClangTidyYAML(out normalize.Output, pctx normalize.ParseContext) (normalize.Parsed, error) {
	if strings.TrimSpace(out.Report) == "" {
		return normalize.Parsed{}, fmt.Errorf("%w: no export-fixes report", normalize.ErrUnrecognized)
	}
	var doc struct {
		MainSourceFile string `yaml:"MainSourceFile"`
		Diagnostics    []struct {
			DiagnosticName    string `yaml:"DiagnosticName"`
			Level             string `yaml:"Level"`
			DiagnosticMessage struct {
				Message    string `yaml:"Message"`
				FilePath   string `yaml:"FilePath"`
				FileOffset int    `yaml:"FileOffset"`
			} `yaml:"DiagnosticMessage"`
		} `yaml:"Diagnostics"`
	}
	if err := yaml.Unmarshal([]byte(out.Report), &doc); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	var p normalize.Parsed
	for _, d := range doc.Diagnostics {
		msg := d.DiagnosticMessage
		file := msg.FilePath
		if file == "" {
			file = doc.MainSourceFile
		}
		line, col := offsetPosition(pctx.WorkDir, file, msg.FileOffset)
		sev := domain.SeverityWarning
		if strings.EqualFold(d.Level, "error") {
			sev = domain.SeverityError
		}
		p.Issues = append(p.Issues, domain.Issue{File: file, Line: line, Column: col, Severity: sev, Code: d.DiagnosticName, Message: msg.Message})
	}
	p.FilesChecked = len(pctx.Files)
	return p, nil
}

// offsetPosition converts a byte offset into a 1-based line and column by
// reading the file. Unreadable files yield 0, 0.
func offsetPosition(workDir, file string, offset int) (int, int) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, file)
	}
	data, err := os.ReadFile(path)
	if err != nil || offset < 0 || offset > len(data) {
		return 0, 0
	}
	head := data[:offset]
	line := strings.Count(string(head), "\n") + 1
	col := offset - strings.LastIndexByte(string(head), '\n')
	return line, col
}

// ---------------------------------------------------------------- clang-format

func clangFormatTool() Tool {
	return Tool{
		Name:           "clang-format",
		Language:       "cpp",
		Kind:           registry.KindFormat,
		Description:    "clang-format formatting check",
		DefaultEnabled: true,
		Executable:     "clang-format",
		VersionArgs:    []string{"--version"},
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("3.5"), Args: []string{"--output-replacements-xml"}, Structured: normalize.StrategyFunc{Label: "clang-format-xml", Fn: parseClangFormatXML}},
		},
		Text: normalize.LineParser{
			Label:  "clang-format-text",
			Stream: normalize.StreamStderr,
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?):(\d+):(\d+): (?:error|warning): (.*?)(?: \[-Wclang-format-violations\])?$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Severity: domain.SeverityError, Code: "format", Message: m[4]}
				},
			}},
			CountFiles: true,
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat(strOpt("--style=", opts, "style"), extraArgs(opts), formatArgs)
			if len(formatArgs) == 0 {
				args = append(args, "--dry-run", "--Werror")
			}
			return normalize.Command{Name: "clang-format", Args: fileArgs(args, req)}
		},
	}
}

type clangReplacements struct {
	XMLName      xml.Name `xml:"replacements"`
	Replacements []struct {
		Offset int `xml:"offset,attr"`
		Length int `xml:"length,attr"`
	} `xml:"replacement"`
}

// parseClangFormatXML reads one <replacements> document per input file, in
// the order the files were passed.
func parseClangFormatXML(out normalize.Output, pctx normalize.ParseContext) (normalize.Parsed, error) {
	if !strings.Contains(out.Stdout, "<replacements") {
		return normalize.Parsed{}, normalize.ErrUnrecognized
	}
	dec := xml.NewDecoder(strings.NewReader(out.Stdout))
	var p normalize.Parsed
	i := 0
	for {
		var doc clangReplacements
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
		}
		file := "<clang-format>"
		if i < len(pctx.Files) {
			file = pctx.Files[i]
		}
		i++
		if len(doc.Replacements) == 0 {
			continue
		}
		line, col := offsetPosition(pctx.WorkDir, file, doc.Replacements[0].Offset)
		p.Issues = append(p.Issues, domain.Issue{
			File:       file,
			Line:       line,
			Column:     col,
			Severity:   domain.SeverityError,
			Code:       "format",
			Message:    fmt.Sprintf("code should be clang-formatted (%d replacements)", len(doc.Replacements)),
			Suggestion: "run clang-format -i " + file,
		})
	}
	p.FilesChecked = len(pctx.Files)
	return p, nil
}

// ---------------------------------------------------------------- cpplint

func cpplintTool() Tool {
	return Tool{
		Name:           "cpplint",
		Language:       "cpp",
		Kind:           registry.KindLint,
		Description:    "Google C++ style checks",
		DefaultEnabled: false,
		Executable:     "cpplint",
		VersionArgs:    []string{"--version"},
		Text: normalize.LineParser{
			Label:  "cpplint-text",
			Stream: normalize.StreamStderr,
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?):(\d+):\s+(.*?)\s+\[([\w/+-]+)\] \[(\d)\]$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					sev := domain.SeverityWarning
					if normalize.Atoi(m[5]) >= 4 {
						sev = domain.SeverityError
					}
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Severity: sev, Code: m[4], Message: m[3]}
				},
			}},
			Clean:      []*regexp.Regexp{re(`^Done processing `), re(`^Total errors found: \d+`)},
			Ignore:     []*regexp.Regexp{re(`^Ignoring `)},
			CountFiles: true,
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, _ []string) normalize.Command {
			args := concat(
				joinOpt("--filter=", opts.Strings("filter")),
				intOpt("--linelength=", opts, "linelength"),
				extraArgs(opts),
			)
			return normalize.Command{Name: "cpplint", Args: fileArgs(args, req)}
		},
	}
}

// ---------------------------------------------------------------- gtest

func gtestTool() Tool {
	return Tool{
		Name:             "gtest",
		Language:         "cpp",
		Kind:             registry.KindTest,
		Description:      "GoogleTest test binary",
		DefaultEnabled:   false,
		ExecutableOption: "binary",
		Formats: []normalize.Format{
			{Args: []string{"--gtest_output=json:" + normalize.ReportPlaceholder}, Structured: normalize.StrategyFunc{Label: "gtest-json", Fn: parseGTestJSON}},
		},
		Text: normalize.StrategyFunc{Label: "gtest-text", Fn: parseGTestText},
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat(extraArgs(opts), formatArgs)
			if len(req.Tests) > 0 {
				args = append(args, "--gtest_filter="+strings.Join(req.Tests, ":"))
			} else if opts.Has("filter") {
				args = append(args, "--gtest_filter="+opts.String("filter", "*"))
			}
			return normalize.Command{Name: opts.String("binary", ""), Args: args}
		},
	}
}

func parseGTestJSON(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	var doc struct {
		Tests      *int `json:"tests"`
		TestSuites []struct {
			Name      string `json:"name"`
			TestSuite []struct {
				Name     string `json:"name"`
				Status   string `json:"status"`
				Result   string `json:"result"`
				Time     any    `json:"time"`
				Failures []struct {
					Failure string `json:"failure"`
				} `json:"failures"`
			} `json:"testsuite"`
		} `json:"testsuites"`
	}
	if strings.TrimSpace(out.Report) == "" {
		return normalize.Parsed{}, fmt.Errorf("%w: no json report", normalize.ErrUnrecognized)
	}
	if err := json.Unmarshal([]byte(out.Report), &doc); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	if doc.Tests == nil {
		return normalize.Parsed{}, fmt.Errorf("%w: not a gtest report", normalize.ErrUnrecognized)
	}

	var p normalize.Parsed
	for _, suite := range doc.TestSuites {
		for _, tc := range suite.TestSuite {
			status := domain.StatusPassed
			var msgs []string
			for _, f := range tc.Failures {
				msgs = append(msgs, f.Failure)
			}
			switch {
			case tc.Status == "NOTRUN" || tc.Result == "SKIPPED" || tc.Result == "SUPPRESSED":
				status = domain.StatusSkipped
			case len(msgs) > 0:
				status = domain.StatusFailed
			}
			p.Tests = append(p.Tests, domain.TestCaseResult{
				ID:       suite.Name + "." + tc.Name,
				Suite:    suite.Name,
				Name:     tc.Name,
				Status:   status,
				Duration: gtestTime(tc.Time),
				Message:  strings.Join(msgs, "\n"),
			})
		}
	}
	return withTestIssues(p, gtestFailureFile), nil
}

func gtestTime(v any) time.Duration {
	switch t := v.(type) {
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSuffix(t, "s"), "%g", &f); err == nil {
			return seconds(f)
		}
	case float64:
		return seconds(t)
	}
	return 0
}

var gtestLocation = re(`^(.+?):(\d+)`)

func gtestFailureFile(tc domain.TestCaseResult) string {
	if m := gtestLocation.FindStringSubmatch(firstLine(tc.Message)); m != nil {
		return m[1]
	}
	return "<gtest>"
}

var (
	gtestRun    = re(`^\[ RUN      \] (\S+)$`)
	gtestResult = re(`^\[\s+(OK|FAILED|SKIPPED)\s+\] (\S+\.\S+?)(?: \((\d+) ms\))?$`)
	gtestDone   = re(`^\[==========\] \d+ tests? from \d+ test (suites?|cases?) ran`)
)

func parseGTestText(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	var p normalize.Parsed
	recognized := false
	index := make(map[string]int)
	var current string
	var buf []string

	for _, line := range strings.Split(out.Stdout, "\n") {
		line = strings.TrimRight(line, " \t")
		if m := gtestRun.FindStringSubmatch(line); m != nil {
			current, buf, recognized = m[1], nil, true
			continue
		}
		if m := gtestResult.FindStringSubmatch(line); m != nil {
			recognized = true
			id := m[2]
			if _, dup := index[id]; dup {
				continue
			}
			suite, name, _ := strings.Cut(id, ".")
			status := domain.StatusPassed
			switch m[1] {
			case "FAILED":
				status = domain.StatusFailed
			case "SKIPPED":
				status = domain.StatusSkipped
			}
			tc := domain.TestCaseResult{ID: id, Suite: suite, Name: name, Status: status, Duration: millis(normalize.Atoi(m[3]))}
			if status == domain.StatusFailed && id == current {
				tc.Message = strings.TrimSpace(strings.Join(buf, "\n"))
			}
			index[id] = len(p.Tests)
			p.Tests = append(p.Tests, tc)
			current, buf = "", nil
			continue
		}
		if gtestDone.MatchString(line) {
			recognized = true
			continue
		}
		if current != "" {
			buf = append(buf, line)
		}
	}
	if !recognized {
		return normalize.Parsed{}, normalize.ErrUnrecognized
	}
	return withTestIssues(p, gtestFailureFile), nil
}
