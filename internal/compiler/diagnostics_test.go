package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDiagnostics(t *testing.T) {
	output := `# command-line-arguments
./main.go:12:5: undefined: helper
util.go:7: warning: deprecated call
C:\scripts\tool.go:3:1: syntax error: unexpected }
lib.go(4,9): warning GO2001: shadowed variable
not a diagnostic line
`

	diags := ParseDiagnostics(output)
	assert.Equal(t, []Diagnostic{
		{File: "./main.go", Line: 12, Column: 5, Severity: SeverityError, Message: "undefined: helper"},
		{File: "util.go", Line: 7, Severity: SeverityWarning, Message: "deprecated call"},
		{File: `C:\scripts\tool.go`, Line: 3, Column: 1, Severity: SeverityError, Message: "syntax error: unexpected }"},
		{File: "lib.go", Line: 4, Column: 9, Severity: SeverityWarning, Code: "GO2001", Message: "shadowed variable"},
	}, diags)
}

func TestParseDiagnostics_Empty(t *testing.T) {
	assert.Nil(t, ParseDiagnostics(""))
	assert.Nil(t, ParseDiagnostics("# pkg\n\n"))
}

func TestDiagnostic_String(t *testing.T) {
	tests := []struct {
		d    Diagnostic
		want string
	}{
		{Diagnostic{File: "a.go", Line: 1, Column: 2, Severity: SeverityError, Message: "bad"}, "a.go:1:2: error: bad"},
		{Diagnostic{File: "a.go", Line: 1, Severity: SeverityWarning, Message: "meh"}, "a.go:1: warning: meh"},
		{Diagnostic{Severity: SeverityError, Code: "GO1", Message: "x"}, "error GO1: x"},
		{Diagnostic{Severity: Severity(9), Message: "x"}, "unknown: x"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.String())
	}
}
