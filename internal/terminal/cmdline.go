package terminal

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseCommandLine splits a forward-program command line into an absolute
// executable path and its arguments.
//
// Quoting rules: a leading double quote starts the executable path; a
// backslash escapes the next character inside it; the first unescaped
// closing quote terminates it. Everything after the path is split on
// whitespace. Unquoted command lines are split on whitespace outright.
func ParseCommandLine(line string) (string, []string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, fmt.Errorf("%w: forward command line is empty", ErrInvalidArgument)
	}

	var path, rest string
	if line[0] == '"' {
		var sb strings.Builder
		i := 1
		closed := false
		for i < len(line) {
			c := line[i]
			if c == '\\' && i+1 < len(line) {
				sb.WriteByte(line[i+1])
				i += 2
				continue
			}
			if c == '"' {
				closed = true
				i++
				break
			}
			sb.WriteByte(c)
			i++
		}
		if !closed {
			return "", nil, fmt.Errorf("%w: unterminated quote in forward command line", ErrInvalidArgument)
		}
		path = sb.String()
		rest = line[i:]
	} else {
		fields := strings.Fields(line)
		path = fields[0]
		rest = strings.TrimPrefix(line, fields[0])
	}

	if !filepath.IsAbs(path) {
		return "", nil, fmt.Errorf("%w: forward executable path must be absolute: %q", ErrInvalidArgument, path)
	}

	return path, strings.Fields(rest), nil
}
