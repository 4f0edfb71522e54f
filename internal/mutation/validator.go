package mutation

import (
	"fmt"
	"strings"
)

// Static validation of generated candidate source. The checks are
// deliberately structural - the external executor is the only component that
// actually runs candidates, so validation here only has to reject output
// that could never be a strategy: wrong shape, unbalanced delimiters, or
// calls into APIs candidates must not touch.

// maxSourceBytes caps generated source size; anything larger is runaway
// generation, not a strategy.
const maxSourceBytes = 64 * 1024

// requiredEntryPoint is the function every candidate must define; the
// external executor invokes it per bar.
const requiredEntryPoint = "def generate_signal"

// forbiddenAPIs are substrings that disqualify generated source outright.
// Candidates are pure signal functions: no processes, no network, no files.
var forbiddenAPIs = []string{
	"os.system",
	"subprocess",
	"eval(",
	"exec(",
	"__import__",
	"open(",
	"socket",
	"requests.",
	"urllib",
	"shutil",
}

// ValidateSource runs all static checks against candidate source text.
func ValidateSource(source string) error {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return fmt.Errorf("source is empty")
	}
	if len(trimmed) > maxSourceBytes {
		return fmt.Errorf("source exceeds %d bytes", maxSourceBytes)
	}

	if !strings.Contains(trimmed, requiredEntryPoint) {
		return fmt.Errorf("source does not define the required entry point %q", requiredEntryPoint)
	}

	for _, api := range forbiddenAPIs {
		if strings.Contains(trimmed, api) {
			return fmt.Errorf("source uses forbidden API %q", api)
		}
	}

	if err := checkBalanced(trimmed); err != nil {
		return err
	}

	return nil
}

// checkBalanced verifies parentheses, brackets and braces pair up, ignoring
// anything inside string literals.
func checkBalanced(source string) error {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}

	var inString rune // 0 when outside a literal
	var prev rune
	for _, ch := range source {
		if inString != 0 {
			if ch == inString && prev != '\\' {
				inString = 0
			}
			prev = ch
			continue
		}

		switch ch {
		case '"', '\'':
			inString = ch
		case '(', '[', '{':
			stack = append(stack, ch)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[ch] {
				return fmt.Errorf("unbalanced delimiter %q", string(ch))
			}
			stack = stack[:len(stack)-1]
		}
		prev = ch
	}

	if len(stack) != 0 {
		return fmt.Errorf("unclosed delimiter %q", string(stack[len(stack)-1]))
	}
	return nil
}
