// Package sandbox runs user-submitted Python snippets in an isolated child
// process with static validation, resource limits, and a hard wall-clock
// timeout. The parent process never interprets the code itself.
package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// bannedIdentifiers are names that must not appear anywhere in the code.
// Checked lexically here and again by the AST validator in the child.
var bannedIdentifiers = map[string]bool{
	"__import__":   true,
	"__builtins__": true,
	"open":         true,
	"eval":         true,
	"exec":         true,
	"compile":      true,
	"globals":      true,
	"locals":       true,
	"vars":         true,
	"dir":          true,
	"help":         true,
	"input":        true,
	"breakpoint":   true,
	"getattr":      true,
	"setattr":      true,
	"delattr":      true,
	"hasattr":      true,
	"type":         true,
	"object":       true,
	"super":        true,
	"classmethod":  true,
	"staticmethod": true,
	"property":     true,
}

// bannedKeywords are statement forms rejected outright
var bannedKeywords = map[string]bool{
	"import":   true,
	"global":   true,
	"nonlocal": true,
	"def":      true,
	"class":    true,
	"lambda":   true,
	"while":    true,
	"try":      true,
	"except":   true,
	"finally":  true,
	"with":     true,
	"raise":    true,
	"assert":   true,
	"del":      true,
	"yield":    true,
	"async":    true,
	"await":    true,
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Validate performs a lexical pre-screen of the snippet. It is a cheap
// first gate; the authoritative AST check runs inside the child process
// before execution. Rejections here never reach the interpreter at all.
func Validate(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code is empty")
	}

	if strings.Contains(code, "__") {
		return fmt.Errorf("double-underscore attribute access is not allowed")
	}

	for _, line := range strings.Split(code, "\n") {
		stripped := stripStrings(line)
		for _, word := range wordPattern.FindAllString(stripped, -1) {
			if bannedKeywords[word] {
				return fmt.Errorf("statement %q is not allowed", word)
			}
			if bannedIdentifiers[word] {
				return fmt.Errorf("identifier %q is not allowed", word)
			}
		}
	}
	return nil
}

// stripStrings blanks out string literal contents so banned words inside
// data do not trigger false rejections. Handles the common single-line
// quoting forms; triple-quoted blocks still get word-scanned, which only
// errs toward rejection.
func stripStrings(line string) string {
	var out strings.Builder
	var quote byte
	escaped := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == quote {
				quote = 0
			}
			out.WriteByte(' ')
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			out.WriteByte(' ')
			continue
		}
		if c == '#' {
			break
		}
		out.WriteByte(c)
	}
	return out.String()
}
