// Package buildserver hosts a long-lived compiler daemon reachable over a
// loopback socket, together with its client, lifecycle manager and instance
// registry.
//
// Each exchange is one connection: the client writes a newline-delimited
// request, half-closes, and reads the response until EOF.
//
//	-stop                       -> "Terminating pid:<n>"
//	-ping                       -> "pid:<n>\nfile: <path>\n<backend>: <path>"
//	-is_writable_dir:<path>     -> "true" | "false"
//	<backend>\n<arg1>\n<arg2>.. -> "<exitCode>|<output>"
//
// A compile request whose first line is not a known backend id is a legacy
// request for the default backend.
package buildserver

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	CmdStop          = "-stop"
	CmdPing          = "-ping"
	CmdIsWritableDir = "-is_writable_dir:"

	// DefaultPort is the loopback port the daemon listens on unless overridden
	DefaultPort = 17017
)

// EncodeCompileRequest frames a compile request for backend
func EncodeCompileRequest(backend string, args []string) string {
	return strings.Join(append([]string{backend}, args...), "\n")
}

// DecodeCompileRequest splits a compile request into backend id and
// arguments. isBackend reports whether the first line names a backend.
func DecodeCompileRequest(body string, isBackend func(string) bool) (string, []string) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	if len(lines) > 0 && isBackend(lines[0]) {
		return lines[0], lines[1:]
	}

	return "", lines
}

// EncodeResult frames a compile response
func EncodeResult(exitCode int, output string) string {
	return fmt.Sprintf("%d|%s", exitCode, output)
}

// ParseResult splits a compile response into exit code and output
func ParseResult(resp string) (int, string, error) {
	code, output, ok := strings.Cut(resp, "|")
	if !ok {
		return 0, "", fmt.Errorf("malformed build server response: %q", truncate(resp, 64))
	}

	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return 0, "", fmt.Errorf("malformed build server exit code: %w", err)
	}

	return n, output, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
