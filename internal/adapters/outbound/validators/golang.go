package validators

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/openkraft/anvil/internal/domain/registry"
)

// goPackages maps files to the package patterns go tooling expects.
func goPackages(req domain.ValidateRequest, opts normalize.Options) []string {
	if pkgs := opts.Strings("packages"); len(pkgs) > 0 {
		return pkgs
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range req.Files {
		dir := "./" + path.Dir(f)
		if dir == "./." {
			dir = "."
		}
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return []string{"./..."}
	}
	return out
}

var goPosition = re(`^(.+?\.go):(\d+):(\d+): (.*)$`)

// ---------------------------------------------------------------- gofmt

func gofmtTool() Tool {
	return Tool{
		Name:           "gofmt",
		Language:       "go",
		Kind:           registry.KindFormat,
		Description:    "gofmt formatting check",
		DefaultEnabled: true,
		Executable:     "gofmt",
		Text: normalize.LineParser{
			Label:  "gofmt-text",
			Stream: normalize.StreamBoth,
			Rules: []normalize.LineRule{
				{
					Pattern: goPosition,
					Build: func(m []string, _ normalize.ParseContext) domain.Issue {
						return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Severity: domain.SeverityError, Code: "syntax", Message: m[4]}
					},
				},
				{
					Pattern: re(`^(\S+\.go)$`),
					Build: func(m []string, _ normalize.ParseContext) domain.Issue {
						return domain.Issue{File: m[1], Severity: domain.SeverityError, Code: "format", Message: "file is not gofmt-formatted", Suggestion: "run gofmt -w " + m[1]}
					},
				},
			},
			CountFiles: true,
		},
		// gofmt -l exits 0 even when files need formatting; 2 means a syntax error
		Policy:     normalize.Policy{OK: []int{0}, Findings: []int{2}},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, _ []string) normalize.Command {
			args := []string{"-l"}
			if opts.Bool("simplify", false) {
				args = append(args, "-s")
			}
			return normalize.Command{Name: "gofmt", Args: fileArgs(args, req)}
		},
	}
}

// ---------------------------------------------------------------- go vet

func govetTool() Tool {
	return Tool{
		Name:           "govet",
		Language:       "go",
		Kind:           registry.KindAnalysis,
		Description:    "go vet suspicious construct checks",
		DefaultEnabled: true,
		Executable:     "go",
		VersionArgs:    []string{"version"},
		Text: normalize.LineParser{
			Label:  "govet-text",
			Stream: normalize.StreamBoth,
			Rules: []normalize.LineRule{{
				Pattern: re(`^(?:vet: )?(.+?\.go):(\d+):(\d+): (.*)$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Severity: domain.SeverityError, Code: "vet", Message: m[4]}
				},
			}},
			Ignore:     []*regexp.Regexp{re(`^# `)},
			CountFiles: true,
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, _ []string) normalize.Command {
			args := concat([]string{"vet"}, extraArgs(opts), goPackages(req, opts))
			return normalize.Command{Name: "go", Args: args}
		},
	}
}

// ---------------------------------------------------------------- golangci-lint

func golangciTool() Tool {
	structured := normalize.StrategyFunc{Label: "golangci-json", Fn: parseGolangciJSON}
	return Tool{
		Name:           "golangci-lint",
		Language:       "go",
		Kind:           registry.KindLint,
		Description:    "golangci-lint meta linter",
		DefaultEnabled: false,
		Executable:     "golangci-lint",
		VersionArgs:    []string{"--version"},
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("1.0"), Below: normalize.MustVersion("2.0"), Args: []string{"--out-format=json"}, Structured: structured},
			{Min: normalize.MustVersion("2.0"), Below: normalize.MustVersion("3.0"), Args: []string{"--output.json.path=stdout"}, Structured: structured},
		},
		Text: normalize.LineParser{
			Label: "golangci-text",
			Rules: []normalize.LineRule{{
				Pattern: re(`^(.+?\.go):(\d+):(\d+): (.*) \(([\w-]+)\)$`),
				Build: func(m []string, _ normalize.ParseContext) domain.Issue {
					return domain.Issue{File: m[1], Line: normalize.Atoi(m[2]), Column: normalize.Atoi(m[3]), Severity: domain.SeverityError, Code: m[5], Message: m[4]}
				},
			}},
			Clean:      []*regexp.Regexp{re(`^\d+ issues?\.?$`)},
			CountFiles: true,
		},
		NeedsFiles: true,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat(
				[]string{"run"},
				strOpt("--config=", opts, "config"),
				joinOpt("--enable=", opts.Strings("enable")),
				extraArgs(opts),
				formatArgs,
				goPackages(req, opts),
			)
			return normalize.Command{Name: "golangci-lint", Args: args}
		},
	}
}

func parseGolangciJSON(out normalize.Output, pctx normalize.ParseContext) (normalize.Parsed, error) {
	var doc struct {
		Issues []struct {
			FromLinter string `json:"FromLinter"`
			Text       string `json:"Text"`
			Severity   string `json:"Severity"`
			Pos        struct {
				Filename string `json:"Filename"`
				Line     int    `json:"Line"`
				Column   int    `json:"Column"`
			} `json:"Pos"`
		} `json:"Issues"`
	}
	// v2 may print a text summary after the json document
	body := strings.TrimSpace(out.Stdout)
	if i := strings.IndexByte(body, '{'); i >= 0 {
		body = body[i:]
	}
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&doc); err != nil {
		return normalize.Parsed{}, fmt.Errorf("%w: %v", normalize.ErrUnrecognized, err)
	}
	var p normalize.Parsed
	for _, is := range doc.Issues {
		sev := domain.SeverityError
		switch strings.ToLower(is.Severity) {
		case "warning":
			sev = domain.SeverityWarning
		case "info":
			sev = domain.SeverityInfo
		}
		p.Issues = append(p.Issues, domain.Issue{File: is.Pos.Filename, Line: is.Pos.Line, Column: is.Pos.Column, Severity: sev, Code: is.FromLinter, Message: is.Text})
	}
	p.FilesChecked = len(pctx.Files)
	return p, nil
}

// ---------------------------------------------------------------- go test

func gotestTool() Tool {
	return Tool{
		Name:           "gotest",
		Language:       "go",
		Kind:           registry.KindTest,
		Description:    "go test",
		DefaultEnabled: true,
		Executable:     "go",
		VersionArgs:    []string{"version"},
		Formats: []normalize.Format{
			{Min: normalize.MustVersion("1.10"), Args: []string{"-json"}, Structured: normalize.StrategyFunc{Label: "gotest-json", Fn: parseGoTestJSON}},
		},
		Text: normalize.StrategyFunc{Label: "gotest-text", Fn: parseGoTestText},
		Post: enforceCoverage,
		Build: func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command {
			args := concat([]string{"test"}, formatArgs)
			if opts.Bool("cover", false) || opts.Has("coverage_threshold") {
				args = append(args, "-cover")
			}
			if opts.Bool("race", false) {
				args = append(args, "-race")
			}
			args = append(args, extraArgs(opts)...)
			pkgs := goPackages(req, opts)
			if len(req.Tests) > 0 {
				var names []string
				pkgSet := make(map[string]bool)
				for _, id := range req.Tests {
					pkg, name, ok := strings.Cut(id, "::")
					if !ok {
						continue
					}
					pkgSet[pkg] = true
					names = append(names, regexp.QuoteMeta(strings.SplitN(name, "/", 2)[0]))
				}
				if len(names) > 0 {
					args = append(args, "-run", "^("+strings.Join(names, "|")+")$")
					pkgs = sortedKeys(pkgSet)
				}
			}
			return normalize.Command{Name: "go", Args: append(args, pkgs...)}
		},
	}
}

var goCoverage = re(`coverage: (\d+(?:\.\d+)?)% of statements`)

type goTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

func goTestID(pkg, test string) string { return pkg + "::" + test }

func parseGoTestJSON(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	type caseState struct {
		tc     domain.TestCaseResult
		output []string
		done   bool
	}
	cases := make(map[string]*caseState)
	var order []string
	pkgFailed := make(map[string]bool)
	pkgOutput := make(map[string][]string)
	var coverages []float64
	events := 0

	sc := bufio.NewScanner(strings.NewReader(out.Stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev goTestEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Action == "" {
			continue
		}
		events++

		if ev.Test == "" {
			switch ev.Action {
			case "output":
				if m := goCoverage.FindStringSubmatch(ev.Output); m != nil {
					if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
						coverages = append(coverages, pct)
					}
				}
				pkgOutput[ev.Package] = append(pkgOutput[ev.Package], strings.TrimRight(ev.Output, "\n"))
			case "fail":
				pkgFailed[ev.Package] = true
			}
			continue
		}

		id := goTestID(ev.Package, ev.Test)
		st, ok := cases[id]
		if !ok {
			st = &caseState{tc: domain.TestCaseResult{ID: id, Suite: ev.Package, Name: ev.Test}}
			cases[id] = st
			order = append(order, id)
		}
		switch ev.Action {
		case "output":
			st.output = append(st.output, strings.TrimRight(ev.Output, "\n"))
		case "pass", "fail", "skip":
			st.tc.Status = map[string]domain.Status{"pass": domain.StatusPassed, "fail": domain.StatusFailed, "skip": domain.StatusSkipped}[ev.Action]
			st.tc.Duration = seconds(ev.Elapsed)
			st.done = true
		}
	}
	if events == 0 {
		return normalize.Parsed{}, normalize.ErrUnrecognized
	}

	var p normalize.Parsed
	failedTests := make(map[string]bool)
	for _, id := range order {
		st := cases[id]
		if !st.done {
			// started but never finished: the package crashed or timed out
			st.tc.Status = domain.StatusError
		}
		if st.tc.Status.IsFailure() {
			st.tc.Message = strings.TrimSpace(strings.Join(st.output, "\n"))
			failedTests[st.tc.Suite] = true
		}
		p.Tests = append(p.Tests, st.tc)
	}
	// a failing package without failing tests did not build or crashed in init
	for _, pkg := range sortedKeys(pkgFailed) {
		if failedTests[pkg] {
			continue
		}
		p.Issues = append(p.Issues, domain.Issue{
			File:     "<" + pkg + ">",
			Severity: domain.SeverityError,
			Code:     "package-failure",
			Message:  fmt.Sprintf("package %s failed: %s", pkg, firstLine(strings.Join(pkgOutput[pkg], "\n"))),
		})
	}
	if len(coverages) > 0 {
		p.SetMeta("coverage", average(coverages))
	}
	return withTestIssues(p, goTestFile), nil
}

func goTestFile(tc domain.TestCaseResult) string {
	return "<" + tc.Suite + ">"
}

var (
	goTestResult = re(`^\s*--- (PASS|FAIL|SKIP): (\S+) \(([\d.]+)s\)$`)
	goTestPkg    = re(`^(ok|FAIL|\?)\s+(\S+)(?:\s+(?:[\d.]+s|\[.*\]|\(cached\)))?`)
)

func parseGoTestText(out normalize.Output, _ normalize.ParseContext) (normalize.Parsed, error) {
	var p normalize.Parsed
	var pending []domain.TestCaseResult
	var coverages []float64
	recognized := false

	for _, line := range strings.Split(out.Stdout, "\n") {
		if m := goCoverage.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				coverages = append(coverages, pct)
			}
		}
		if m := goTestResult.FindStringSubmatch(line); m != nil {
			recognized = true
			f, _ := strconv.ParseFloat(m[3], 64)
			status := map[string]domain.Status{"PASS": domain.StatusPassed, "FAIL": domain.StatusFailed, "SKIP": domain.StatusSkipped}[m[1]]
			pending = append(pending, domain.TestCaseResult{Name: m[2], Status: status, Duration: seconds(f)})
			continue
		}
		if m := goTestPkg.FindStringSubmatch(strings.TrimRight(line, " \t")); m != nil && m[2] != "" && !strings.HasPrefix(m[2], "[") {
			recognized = true
			for _, tc := range pending {
				tc.Suite = m[2]
				tc.ID = goTestID(m[2], tc.Name)
				p.Tests = append(p.Tests, tc)
			}
			pending = nil
		}
	}
	if !recognized {
		return normalize.Parsed{}, normalize.ErrUnrecognized
	}
	for _, tc := range pending {
		tc.ID = tc.Name
		p.Tests = append(p.Tests, tc)
	}
	if len(coverages) > 0 {
		p.SetMeta("coverage", average(coverages))
	}
	return withTestIssues(p, goTestFile), nil
}

func average(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
