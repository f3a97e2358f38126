// Package verdict extracts a structured review verdict from the automated
// reviewer's comment body. The comment contract is loose in practice: the
// payload may be a fenced yaml block, a bare document after a "---" marker,
// or mangled text that only regex recovery can salvage. Everything fragile
// about that format is contained here; consumers always receive a
// well-formed ReviewVerdict.
package verdict

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Issue describes a single finding raised by the reviewer.
type Issue struct {
	Description string `yaml:"description"`
	File        string `yaml:"file,omitempty"`
	Line        int    `yaml:"line,omitempty"`
	Category    string `yaml:"category,omitempty"`
}

// ReviewVerdict is the parsed reviewer output for one decision cycle.
// Approved reflects the verdict field alone; BlockingIssues independently
// gates merging regardless of Approved, so an inconsistent upstream payload
// (APPROVE with blocking findings) still blocks.
type ReviewVerdict struct {
	Approved       bool
	BlockingIssues []Issue
	Warnings       []Issue
}

// wireIssue accepts either a bare string or a full mapping in issue lists.
type wireIssue Issue

func (w *wireIssue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		w.Description = node.Value
		return nil
	}
	var full Issue
	if err := node.Decode(&full); err != nil {
		return err
	}
	*w = wireIssue(full)
	return nil
}

// wireVerdict is the structured payload shape the reviewer emits.
type wireVerdict struct {
	Verdict string `yaml:"verdict"`
	Issues  struct {
		Blocking []wireIssue `yaml:"blocking"`
		Warnings []wireIssue `yaml:"warnings"`
	} `yaml:"issues"`
	// Some reviewer versions flatten the lists to the top level.
	Blocking []wireIssue `yaml:"blocking"`
	Warnings []wireIssue `yaml:"warnings"`
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:ya?ml)?[ \t]*\n(.*?)```")

// Parse extracts a ReviewVerdict from a raw comment body. It never fails:
// a body that defeats every recovery stage yields approved=false with a
// synthetic warning describing the failure, so the decision engine always
// has a well-formed input.
func Parse(body string) *ReviewVerdict {
	payload := extractPayload(body)

	if v, ok := parseStructured(payload); ok {
		return v
	}

	if v, ok := parseLoose(body); ok {
		return v
	}

	return &ReviewVerdict{
		Approved: false,
		Warnings: []Issue{{
			Description: "unable to parse review verdict: no recognizable verdict fields in comment",
			Category:    "parser",
		}},
	}
}

// Qualifies reports whether a comment body looks like a reviewer verdict at
// all. Used to select the latest verdict comment among general discussion.
func Qualifies(body string) bool {
	return verdictFieldRe.MatchString(body)
}

// extractPayload isolates the structured portion of the comment: a fenced
// code block if present, otherwise everything after the first "---"
// document marker, otherwise the body as-is.
func extractPayload(body string) string {
	if m := fencedBlockRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" {
			return strings.Join(lines[i+1:], "\n")
		}
	}

	return body
}

// parseStructured attempts a strict YAML decode of the payload. Success
// requires a recognizable verdict field or at least one issue list —
// arbitrary prose that happens to be valid YAML does not count.
func parseStructured(payload string) (*ReviewVerdict, bool) {
	var wire wireVerdict
	if err := yaml.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, false
	}

	blocking := wire.Issues.Blocking
	if len(blocking) == 0 {
		blocking = wire.Blocking
	}
	warnings := wire.Issues.Warnings
	if len(warnings) == 0 {
		warnings = wire.Warnings
	}

	if wire.Verdict == "" && len(blocking) == 0 && len(warnings) == 0 {
		return nil, false
	}

	return &ReviewVerdict{
		Approved:       strings.EqualFold(strings.TrimSpace(wire.Verdict), "APPROVE"),
		BlockingIssues: toIssues(blocking),
		Warnings:       toIssues(warnings),
	}, true
}

var (
	verdictFieldRe = regexp.MustCompile(`(?im)^\s*"?verdict"?\s*[:=]\s*"?(APPROVE|REQUEST_CHANGES)"?`)
	listKeyRe      = regexp.MustCompile(`(?i)^\s*"?(blocking|warnings)"?\s*:\s*(.*)$`)
	listItemRe     = regexp.MustCompile(`^\s*-\s+(.*)$`)
	itemDescRe     = regexp.MustCompile(`(?i)^description\s*:\s*(.*)$`)
)

// parseLoose recovers verdict fields from malformed payloads field by
// field: the verdict token via regex, the issue lists by scanning for
// "blocking:"/"warnings:" keys followed by dash items.
func parseLoose(body string) (*ReviewVerdict, bool) {
	m := verdictFieldRe.FindStringSubmatch(body)

	var blocking, warnings []Issue
	var current *[]Issue

	for _, line := range strings.Split(body, "\n") {
		if key := listKeyRe.FindStringSubmatch(line); key != nil {
			switch strings.ToLower(key[1]) {
			case "blocking":
				current = &blocking
			case "warnings":
				current = &warnings
			}
			// Inline empty list ("blocking: []") needs no items.
			if strings.HasPrefix(strings.TrimSpace(key[2]), "[") {
				current = nil
			}
			continue
		}
		if current == nil {
			continue
		}
		if item := listItemRe.FindStringSubmatch(line); item != nil {
			desc := strings.Trim(strings.TrimSpace(item[1]), `"'`)
			if d := itemDescRe.FindStringSubmatch(desc); d != nil {
				desc = strings.Trim(strings.TrimSpace(d[1]), `"'`)
			}
			if desc != "" {
				*current = append(*current, Issue{Description: desc})
			}
			continue
		}
		// Indented continuation lines (file:, line:) stay inside the
		// current item; any other non-blank line ends the list.
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			current = nil
		}
	}

	if m == nil && len(blocking) == 0 && len(warnings) == 0 {
		return nil, false
	}

	approved := m != nil && strings.EqualFold(m[1], "APPROVE")
	return &ReviewVerdict{
		Approved:       approved,
		BlockingIssues: blocking,
		Warnings:       warnings,
	}, true
}

func toIssues(wire []wireIssue) []Issue {
	if len(wire) == 0 {
		return nil
	}
	issues := make([]Issue, 0, len(wire))
	for _, w := range wire {
		issues = append(issues, Issue(w))
	}
	return issues
}

// Summarize renders the blocking issues as a markdown list for user-facing
// comments.
func Summarize(issues []Issue) string {
	var sb strings.Builder
	for _, issue := range issues {
		sb.WriteString("- ")
		sb.WriteString(issue.Description)
		if issue.File != "" {
			if issue.Line > 0 {
				sb.WriteString(fmt.Sprintf(" (%s:%d)", issue.File, issue.Line))
			} else {
				sb.WriteString(fmt.Sprintf(" (%s)", issue.File))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
