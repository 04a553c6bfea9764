package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openkraft/anvil/internal/domain"
)

// Stream selects which captured stream a text parser reads.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
	StreamBoth
)

// LineRule turns one regexp match into an issue.
type LineRule struct {
	Pattern *regexp.Regexp
	Build   func(m []string, pctx ParseContext) domain.Issue
}

// LineParser is the line-oriented fallback strategy most tools share.
// It succeeds when at least one line matched a rule or a clean marker;
// otherwise it reports ErrUnrecognized so the coarse layer takes over.
type LineParser struct {
	Label  string
	Stream Stream
	Rules  []LineRule
	// Clean lines prove the output was understood even with zero issues.
	Clean []*regexp.Regexp
	// Ignore lines are skipped without affecting recognition.
	Ignore []*regexp.Regexp
	// Files counts checked files from the parsed issues when no better source exists.
	CountFiles bool
}

func (p LineParser) Name() string {
	if p.Label == "" {
		return "text"
	}
	return p.Label
}

func (p LineParser) Parse(out Output, pctx ParseContext) (Parsed, error) {
	var parsed Parsed
	recognized := false

	for _, line := range strings.Split(p.input(out), "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" || matchesAny(p.Ignore, line) {
			continue
		}
		if matchesAny(p.Clean, line) {
			recognized = true
			continue
		}
		for _, rule := range p.Rules {
			if m := rule.Pattern.FindStringSubmatch(line); m != nil {
				parsed.Issues = append(parsed.Issues, rule.Build(m, pctx))
				recognized = true
				break
			}
		}
	}

	if !recognized {
		return Parsed{}, ErrUnrecognized
	}
	if p.CountFiles {
		parsed.FilesChecked = len(pctx.Files)
	}
	return parsed, nil
}

func (p LineParser) input(out Output) string {
	switch p.Stream {
	case StreamStderr:
		return out.Stderr
	case StreamBoth:
		return out.Combined()
	default:
		return out.Stdout
	}
}

func matchesAny(res []*regexp.Regexp, line string) bool {
	for _, re := range res {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Atoi parses a decimal capture group, returning 0 for empty or bad input.
func Atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
