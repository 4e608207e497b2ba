package sandbox

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe = regexp.MustCompile("(?s)```(?:python|py)?\\s*\\n?(.*?)```")
	importRe    = regexp.MustCompile(`^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	rcParamsRe  = regexp.MustCompile(`^\s*(?:plt\.|matplotlib\.)rcParams`)
)

// Clean normalizes model-returned code before validation and execution:
// strips markdown fences, converts JSON-escaped newlines back to real ones
// while preserving \n inside string literals, removes stray
// line-continuation backslashes inside bracketed literals, and drops
// import/rcParams lines for the preseeded plotting stack.
func Clean(code string) string {
	if m := codeFenceRe.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	code = strings.TrimSpace(code)
	code = unescapeNewlines(code)
	code = dropContinuationsInLiterals(code)
	code = dropPreseededLines(code)
	return strings.TrimSpace(code)
}

// unescapeNewlines handles code arriving as a single JSON-escaped line.
// The walk tracks quote state: an escaped newline outside string literals
// is formatting and becomes a real newline; inside a literal it is data.
func unescapeNewlines(code string) string {
	if strings.Contains(code, "\n") || !strings.Contains(code, `\n`) {
		return code
	}
	var out strings.Builder
	var quote byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		if quote != 0 {
			out.WriteByte(c)
			if c == '\\' && i+1 < len(code) {
				i++
				out.WriteByte(code[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			out.WriteByte(c)
			continue
		}
		if c == '\\' && i+1 < len(code) {
			switch code[i+1] {
			case 'n':
				out.WriteByte('\n')
				i++
				continue
			case 't':
				out.WriteByte('\t')
				i++
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

// dropContinuationsInLiterals removes trailing backslashes on lines that
// are already inside an open bracket, where Python needs no continuation.
func dropContinuationsInLiterals(code string) string {
	lines := strings.Split(code, "\n")
	depth := 0
	for i, line := range lines {
		if depth > 0 && strings.HasSuffix(strings.TrimRight(line, " \t"), `\`) {
			trimmed := strings.TrimRight(line, " \t")
			lines[i] = trimmed[:len(trimmed)-1]
		}
		depth += bracketDelta(line)
		if depth < 0 {
			depth = 0
		}
	}
	return strings.Join(lines, "\n")
}

func bracketDelta(line string) int {
	delta := 0
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '#':
			return delta
		case '(', '[', '{':
			delta++
		case ')', ']', '}':
			delta--
		}
	}
	return delta
}

// preseededModules are provided by the harness as pd/np/plt/sns, so their
// import lines are redundant. Imports of other allowed modules must stay:
// the harness import hook resolves them at execution time.
var preseededModules = map[string]struct{}{
	"pandas":     {},
	"numpy":      {},
	"matplotlib": {},
	"seaborn":    {},
}

// dropPreseededLines removes imports of preseeded modules and rcParams
// tweaks: pd/np/plt/sns and the plot defaults come from the harness.
func dropPreseededLines(code string) string {
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if rcParamsRe.MatchString(line) {
			continue
		}
		if m := importRe.FindStringSubmatch(line); m != nil {
			root, _, _ := strings.Cut(m[1], ".")
			if _, preseeded := preseededModules[root]; preseeded {
				continue
			}
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
