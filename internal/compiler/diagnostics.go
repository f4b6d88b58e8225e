package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity classifies a diagnostic
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is one structured compiler message
type Diagnostic struct {
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	var loc string
	switch {
	case d.File == "":
	case d.Column > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", d.File, d.Line, d.Column)
	default:
		loc = fmt.Sprintf("%s:%d: ", d.File, d.Line)
	}

	if d.Code != "" {
		return fmt.Sprintf("%s%s %s: %s", loc, d.Severity, d.Code, d.Message)
	}

	return fmt.Sprintf("%s%s: %s", loc, d.Severity, d.Message)
}

type diagnosticPattern struct {
	regex *regexp.Regexp
	parse func(m []string) Diagnostic
}

var diagnosticPatterns = []diagnosticPattern{
	{
		// main.go:12:5: undefined: foo
		regex: regexp.MustCompile(`^(.+?\.go):(\d+)(?::(\d+))?: (.+)$`),
		parse: func(m []string) Diagnostic {
			d := Diagnostic{
				File:     m[1],
				Line:     atoi(m[2]),
				Column:   atoi(m[3]),
				Severity: SeverityError,
				Message:  m[4],
			}

			if rest, ok := strings.CutPrefix(d.Message, "warning: "); ok {
				d.Severity = SeverityWarning
				d.Message = rest
			}

			return d
		},
	},
	{
		// main.go(12,5): error GO1001: message
		regex: regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning|info) ([A-Za-z]+\d+): (.+)$`),
		parse: func(m []string) Diagnostic {
			return Diagnostic{
				File:     m[1],
				Line:     atoi(m[2]),
				Column:   atoi(m[3]),
				Severity: parseSeverity(m[4]),
				Code:     m[5],
				Message:  m[6],
			}
		},
	},
}

// ParseDiagnostics extracts structured diagnostics from compiler output.
// Package header lines and unrecognized lines are skipped.
func ParseDiagnostics(output string) []Diagnostic {
	var diags []Diagnostic

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		for _, p := range diagnosticPatterns {
			if m := p.regex.FindStringSubmatch(line); m != nil {
				diags = append(diags, p.parse(m))
				break
			}
		}
	}

	return diags
}

func parseSeverity(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "info":
		return SeverityInfo
	default:
		return SeverityError
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
