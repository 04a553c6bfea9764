package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/openkraft/anvil/internal/domain"
)

// ── warm palette ──
var (
	accent    = lipgloss.Color("#D97706") // amber
	fg        = lipgloss.Color("#E8E6E3") // warm light gray
	dim       = lipgloss.Color("#6B7280") // muted gray
	faint     = lipgloss.Color("#3F3F46") // very dim
	success   = lipgloss.Color("#22C55E") // green
	danger    = lipgloss.Color("#EF4444") // red
	warning   = lipgloss.Color("#F59E0B") // amber-yellow
	info      = lipgloss.Color("#8B949E") // soft blue-gray
	skipColor = lipgloss.Color("#4B5563") // dark gray
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Align(lipgloss.Center)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(1, 4).
			Align(lipgloss.Center).
			Width(68)

	dimStyle      = lipgloss.NewStyle().Foreground(dim)
	faintStyle    = lipgloss.NewStyle().Foreground(faint)
	passStyle     = lipgloss.NewStyle().Foreground(success)
	failStyle     = lipgloss.NewStyle().Foreground(danger)
	warnStyle     = lipgloss.NewStyle().Foreground(warning)
	skipStyle     = lipgloss.NewStyle().Foreground(skipColor)
	errorTagStyle = lipgloss.NewStyle().Foreground(danger).Bold(true)
	warnTagStyle  = lipgloss.NewStyle().Foreground(warning).Bold(true)
	infoTagStyle  = lipgloss.NewStyle().Foreground(info)
	fileStyle     = lipgloss.NewStyle().Foreground(dim)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(fg)
	nameStyle     = lipgloss.NewStyle().Bold(true).Foreground(fg)
	separatorLine = faintStyle.Render(strings.Repeat("─", 64))
)

// maxIssues caps the issue listing; the JSON export carries the rest.
const maxIssues = 50

// RenderRunReport formats a finished run for the terminal.
func RenderRunReport(report *domain.RunReport) string {
	var b strings.Builder

	// ── Header ──
	title := headerStyle.Render("anvil")
	verdict := statusStyle(report.Run.Status).Bold(true).Render(string(report.Run.Status))
	s := report.Summary
	counts := dimStyle.Render(fmt.Sprintf("%d validators · %d passed · %d failed · %d errored · %d skipped",
		s.Validators, s.Passed, s.Failed, s.Errored, s.Skipped))
	timing := dimStyle.Render(fmt.Sprintf("%d files · %.1fs", s.FilesChecked, report.Run.DurationSeconds))

	b.WriteString(boxStyle.Render(title + "\n\n" + verdict + "\n" + counts + "\n" + timing))
	b.WriteString("\n\n")

	// ── Validators ──
	for _, v := range report.Validators {
		renderValidator(&b, v)
	}

	if sel := report.Selection; sel != nil && (sel.Rule != "" || len(sel.Skipped) > 0) {
		b.WriteString("\n")
		line := fmt.Sprintf("selection: %s scope", sel.Scope)
		if sel.Rule != "" {
			line = fmt.Sprintf("selection: rule %s, %s scope", sel.Rule, sel.Scope)
		}
		line += fmt.Sprintf(", %d selected", len(sel.Selected))
		if len(sel.Skipped) > 0 {
			line += fmt.Sprintf(", %d skipped by history", len(sel.Skipped))
		}
		b.WriteString("  " + dimStyle.Render(line) + "\n")
	}

	b.WriteString("\n")
	b.WriteString("  " + separatorLine)
	b.WriteString("\n\n")

	// ── Issues ──
	if len(report.Issues) > 0 {
		errorCount, warnCount, infoCount := countSeverities(report.Issues)
		b.WriteString("  ")
		b.WriteString(titleStyle.Render("Issues"))
		b.WriteString("  ")
		if errorCount > 0 {
			b.WriteString(errorTagStyle.Render(fmt.Sprintf("%d errors", errorCount)))
			b.WriteString("  ")
		}
		if warnCount > 0 {
			b.WriteString(warnTagStyle.Render(fmt.Sprintf("%d warnings", warnCount)))
			b.WriteString("  ")
		}
		if infoCount > 0 {
			b.WriteString(infoTagStyle.Render(fmt.Sprintf("%d info", infoCount)))
		}
		b.WriteString("\n\n")

		for i, issue := range sortBySeverity(report.Issues) {
			if i == maxIssues {
				fmt.Fprintf(&b, "    %s\n", dimStyle.Render(fmt.Sprintf("… %d more", len(report.Issues)-maxIssues)))
				break
			}
			renderIssue(&b, issue)
		}
	} else {
		b.WriteString("  " + passStyle.Render("No issues found.") + "\n")
	}

	for _, w := range report.Warnings {
		b.WriteString("\n  " + warnTagStyle.Render("warning") + " " + dimStyle.Render(w))
	}

	b.WriteString("\n")
	return b.String()
}

func renderValidator(b *strings.Builder, v domain.ValidatorReport) {
	icon := statusStyle(v.Status).Render(statusIcon(v.Status))
	name := nameStyle.Render(padRight(v.Name, 16))
	lang := dimStyle.Render(padRight(v.Language, 8))
	detail := fmt.Sprintf("%d errors  %d warnings  %d files  %.2fs", v.Errors, v.Warnings, v.FilesChecked, v.DurationSeconds)
	if v.Status == domain.StatusSkipped {
		detail = "skipped"
		if reason, ok := v.Metadata["reason"].(string); ok && reason != "" {
			detail = reason
		}
		fmt.Fprintf(b, "  %s %s %s %s\n", icon, name, lang, skipStyle.Render(detail))
		return
	}
	fmt.Fprintf(b, "  %s %s %s %s\n", icon, name, lang, faintStyle.Render(detail))
}

func renderIssue(b *strings.Builder, issue domain.ReportIssue) {
	tag := severityTag(issue.Severity)
	loc := issue.File
	if issue.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, issue.Line)
		if issue.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, issue.Column)
		}
	}
	code := issue.Validator
	if issue.Code != "" {
		code += " " + issue.Code
	}

	fmt.Fprintf(b, "    %s %s %s\n", tag, fileStyle.Render(loc), faintStyle.Render(code))
	fmt.Fprintf(b, "         %s\n", dimStyle.Render(firstLine(issue.Message)))
}

// RenderRuns formats stored runs newest first.
func RenderRuns(runs []domain.ValidationRun) string {
	if len(runs) == 0 {
		return "  " + dimStyle.Render("No runs recorded.") + "\n"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + titleStyle.Render("Run History") + "\n")
	b.WriteString("  " + faintStyle.Render(strings.Repeat("─", 64)) + "\n\n")

	for _, r := range runs {
		hash := r.GitCommit
		if len(hash) > 7 {
			hash = hash[:7]
		}
		if hash == "" {
			hash = "·······"
		}
		mode := "full"
		if r.Incremental {
			mode = "incr"
		}

		fmt.Fprintf(&b, "  %s  %s  %s  %s  %s  %s\n",
			dimStyle.Render(r.Timestamp.Format("2006-01-02 15:04")),
			faintStyle.Render(hash),
			statusStyle(r.Status).Render(padRight(string(r.Status), 7)),
			dimStyle.Render(mode),
			dimStyle.Render(fmt.Sprintf("%d errors %d warnings", r.Errors, r.Warnings)),
			faintStyle.Render(r.ID),
		)
	}
	return b.String()
}

// ValidatorRow is one line of the validator listing.
type ValidatorRow struct {
	Name        string
	Language    string
	Kind        string
	Enabled     bool
	Available   bool
	Version     string
	Description string
}

// RenderValidators formats the registry listing.
func RenderValidators(rows []ValidatorRow) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + titleStyle.Render("Validators") + "\n")
	b.WriteString("  " + faintStyle.Render(strings.Repeat("─", 64)) + "\n\n")

	for _, r := range rows {
		avail := failStyle.Render("missing")
		if r.Available {
			avail = passStyle.Render("ok     ")
		}
		enabled := skipStyle.Render("disabled")
		if r.Enabled {
			enabled = passStyle.Render("enabled ")
		}
		version := r.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(&b, "  %s %s %s %s %s %s\n",
			nameStyle.Render(padRight(r.Name, 14)),
			dimStyle.Render(padRight(r.Language, 7)),
			dimStyle.Render(padRight(r.Kind, 9)),
			enabled,
			avail,
			faintStyle.Render(version),
		)
	}
	return b.String()
}

// RenderRules formats stored execution rules.
func RenderRules(rs []domain.ExecutionRule) string {
	if len(rs) == 0 {
		return "  " + dimStyle.Render("No rules defined.") + "\n"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + titleStyle.Render("Execution Rules") + "\n")
	b.WriteString("  " + faintStyle.Render(strings.Repeat("─", 64)) + "\n\n")

	for _, r := range rs {
		state := passStyle.Render("enabled ")
		if !r.IsEnabled() {
			state = skipStyle.Render("disabled")
		}
		var detail string
		switch r.Criterion {
		case domain.CriterionGroup:
			detail = strings.Join(r.Groups, ",")
		case domain.CriterionFailedInLast:
			detail = fmt.Sprintf("window=%d", r.Window)
		case domain.CriterionFailureRate:
			detail = fmt.Sprintf("threshold=%.2f", r.EffectiveThreshold())
		}
		fmt.Fprintf(&b, "  %s %s %s %s %s\n",
			nameStyle.Render(padRight(r.Name, 16)),
			state,
			dimStyle.Render(padRight(string(r.EffectiveScope()), 10)),
			dimStyle.Render(padRight(string(r.Criterion), 15)),
			faintStyle.Render(detail),
		)
		if r.Description != "" {
			fmt.Fprintf(&b, "    %s\n", dimStyle.Render(r.Description))
		}
	}
	return b.String()
}

func statusIcon(s domain.Status) string {
	switch s {
	case domain.StatusPassed:
		return "●"
	case domain.StatusSkipped:
		return "○"
	default:
		return "✕"
	}
}

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusPassed:
		return passStyle
	case domain.StatusFailed:
		return failStyle
	case domain.StatusError:
		return warnStyle
	default:
		return skipStyle
	}
}

func severityTag(severity string) string {
	switch severity {
	case domain.SeverityError:
		return errorTagStyle.Render("error")
	case domain.SeverityWarning:
		return warnTagStyle.Render("warn ")
	default:
		return infoTagStyle.Render("info ")
	}
}

func countSeverities(issues []domain.ReportIssue) (errors, warnings, infos int) {
	for _, i := range issues {
		switch i.Severity {
		case domain.SeverityError:
			errors++
		case domain.SeverityWarning:
			warnings++
		default:
			infos++
		}
	}
	return
}

// sortBySeverity returns a copy ordered errors, warnings, infos; the
// report's own order is kept within each severity.
func sortBySeverity(issues []domain.ReportIssue) []domain.ReportIssue {
	order := map[string]int{
		domain.SeverityError:   0,
		domain.SeverityWarning: 1,
		domain.SeverityInfo:    2,
	}
	out := append([]domain.ReportIssue(nil), issues...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && order[out[j].Severity] < order[out[j-1].Severity]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
