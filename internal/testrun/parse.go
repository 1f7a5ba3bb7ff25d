package testrun

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/ashureev/shsh-lessons/internal/domain"
)

var (
	cargoLine   = regexp.MustCompile(`^test (\S+) \.\.\. (ok|FAILED|ignored)\s*$`)
	cargoDetail = regexp.MustCompile(`^---- (\S+) stdout ----$`)
	tapLine     = regexp.MustCompile(`^(not )?ok\b(?:\s+\d+)?(?:\s*-)?\s*(.*)$`)
)

// ParseOutput turns a finished command's output into ordered outcomes and
// hints. cargo and TAP output are recognised; anything else becomes one
// outcome named fallbackName that passes iff the command exited 0. A non-zero
// exit with no failing outcome adds a failing fallbackName outcome.
func ParseOutput(out *Output, fallbackName string) ([]domain.TestOutcome, []string) {
	outcomes := parseCargo(out.Stdout)
	if len(outcomes) == 0 {
		outcomes = parseTAP(out.Stdout)
	}
	switch {
	case len(outcomes) == 0:
		o := domain.TestOutcome{TestName: fallbackName, Passed: out.ExitCode == 0}
		if !o.Passed {
			o.Message = failureLine(out)
		}
		outcomes = []domain.TestOutcome{o}
	case out.ExitCode != 0 && allPassed(outcomes):
		outcomes = append(outcomes, domain.TestOutcome{
			TestName: fallbackName,
			Message:  failureLine(out),
		})
	}
	return outcomes, hints(outcomes)
}

func allPassed(outcomes []domain.TestOutcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// failureLine picks the stderr line that explains a failed command. Build
// tools print progress first, so an error or panic line wins over the first.
func failureLine(out *Output) string {
	for _, line := range strings.Split(out.Stderr, "\n") {
		t := strings.TrimSpace(line)
		lower := strings.ToLower(t)
		if strings.Contains(lower, "error") || strings.Contains(lower, "panicked") {
			return t
		}
	}
	if msg := firstLine(out.Stderr); msg != "" {
		return msg
	}
	return firstLine(out.Stdout)
}

func parseCargo(stdout string) []domain.TestOutcome {
	var outcomes []domain.TestOutcome
	index := make(map[string]int)
	blocks := make(map[string][]string)

	var current string
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if m := cargoLine.FindStringSubmatch(line); m != nil {
			current = ""
			if m[2] == "ignored" {
				continue
			}
			index[m[1]] = len(outcomes)
			outcomes = append(outcomes, domain.TestOutcome{TestName: m[1], Passed: m[2] == "ok"})
			continue
		}
		if m := cargoDetail.FindStringSubmatch(line); m != nil {
			current = m[1]
			continue
		}
		if current == "" {
			continue
		}
		if strings.TrimSpace(line) == "" {
			current = ""
			continue
		}
		blocks[current] = append(blocks[current], strings.TrimSpace(line))
	}

	for name, lines := range blocks {
		if i, ok := index[name]; ok && !outcomes[i].Passed {
			outcomes[i].Message = panicMessage(lines)
		}
	}
	return outcomes
}

// panicMessage extracts the assertion text from a failed test's output
// block. Both the old `panicked at 'msg', file:line` form and the newer
// `panicked at file:line:` + message-on-next-line form are understood.
func panicMessage(lines []string) string {
	for i, line := range lines {
		idx := strings.Index(line, "panicked at ")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("panicked at "):]
		if strings.HasPrefix(rest, "'") {
			if j := strings.LastIndex(rest, "', "); j > 0 {
				return rest[1:j]
			}
		}
		if strings.HasSuffix(rest, ":") && i+1 < len(lines) {
			return lines[i+1]
		}
		return rest
	}
	if len(lines) > 0 {
		return lines[0]
	}
	return ""
}

func parseTAP(stdout string) []domain.TestOutcome {
	var outcomes []domain.TestOutcome
	last := -1
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if m := tapLine.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[2])
			if i := strings.Index(name, " # "); i >= 0 {
				name = strings.TrimSpace(name[:i])
			}
			outcomes = append(outcomes, domain.TestOutcome{TestName: name, Passed: m[1] == ""})
			last = len(outcomes) - 1
			continue
		}
		if last < 0 || outcomes[last].Passed || outcomes[last].Message != "" {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "#"):
			outcomes[last].Message = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		case strings.HasPrefix(trimmed, "error:"):
			outcomes[last].Message = strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, "error:")), `'"`)
		}
	}
	return outcomes
}

func hints(outcomes []domain.TestOutcome) []string {
	var out []string
	seen := make(map[string]bool)
	for _, o := range outcomes {
		if o.Passed || o.Message == "" || seen[o.Message] {
			continue
		}
		seen[o.Message] = true
		out = append(out, o.Message)
	}
	return out
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
