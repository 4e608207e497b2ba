package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON indicates that no JSON object could be recovered from a reply.
var ErrNoJSON = errors.New("no JSON object found in response")

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//[^\n]*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	invalidEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	missingCommaRe  = regexp.MustCompile(`(["}\]])\s*\n(\s*)(["{\[])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	pyTrueRe        = regexp.MustCompile(`\bTrue\b`)
	pyFalseRe       = regexp.MustCompile(`\bFalse\b`)
	pyNoneRe        = regexp.MustCompile(`\bNone\b`)
)

// deEscapeExempt names fields whose values are source text: escaped
// newlines inside them are meaningful and must survive extraction.
var deEscapeExempt = map[string]struct{}{
	"code":            {},
	"fixed_code":      {},
	"revised_content": {},
}

// ExtractObject recovers a JSON object from a free-form model reply. The
// pipeline tries, in order: the raw text, fenced code blocks, the outermost
// brace slice, a sequence of textual repairs (invalid escapes, comments,
// trailing commas, missing commas, unquoted keys), and finally a
// Python-literal normalization. After a successful parse the object's
// string values are recursively de-escaped, except for code-bearing fields.
func ExtractObject(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrNoJSON
	}

	candidates := []string{trimmed}
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if sliced, ok := outermostBraces(trimmed); ok {
		candidates = append(candidates, sliced)
	}

	for _, candidate := range candidates {
		if obj, ok := tryParse(candidate); ok {
			return deEscape(obj).(map[string]any), nil
		}
	}

	// Textual repairs are cumulative: each stage fixes one defect class
	// and reattempts the parse.
	base := candidates[len(candidates)-1]
	repaired := base
	for _, repair := range []func(string) string{
		fixInvalidEscapes,
		stripComments,
		removeTrailingCommas,
		insertMissingCommas,
		quoteUnquotedKeys,
	} {
		repaired = repair(repaired)
		if obj, ok := tryParse(repaired); ok {
			return deEscape(obj).(map[string]any), nil
		}
	}

	if obj, ok := tryParse(pythonLiteral(repaired)); ok {
		return deEscape(obj).(map[string]any), nil
	}
	return nil, ErrNoJSON
}

// Decode re-marshals a salvaged object into a typed struct.
func Decode(obj map[string]any, out any) error {
	blob, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(blob, out)
}

func tryParse(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func outermostBraces(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func fixInvalidEscapes(s string) string {
	return invalidEscapeRe.ReplaceAllString(s, "$1")
}

func stripComments(s string) string {
	s = blockCommentRe.ReplaceAllString(s, "")
	return lineCommentRe.ReplaceAllString(s, "")
}

func removeTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func insertMissingCommas(s string) string {
	return missingCommaRe.ReplaceAllString(s, "$1,\n$2$3")
}

func quoteUnquotedKeys(s string) string {
	return unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
}

// pythonLiteral normalizes a Python-repr-flavored reply: single-quoted
// strings and True/False/None keywords.
func pythonLiteral(s string) string {
	s = pyTrueRe.ReplaceAllString(s, "true")
	s = pyFalseRe.ReplaceAllString(s, "false")
	s = pyNoneRe.ReplaceAllString(s, "null")
	return strings.ReplaceAll(s, "'", `"`)
}

// deEscape walks the parsed object converting over-escaped whitespace
// sequences back to real characters in string values. Fields listed in
// deEscapeExempt keep their text verbatim.
func deEscape(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if _, exempt := deEscapeExempt[k]; exempt {
				continue
			}
			val[k] = deEscape(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = deEscape(inner)
		}
		return val
	case string:
		val = strings.ReplaceAll(val, `\n`, "\n")
		val = strings.ReplaceAll(val, `\t`, "\t")
		val = strings.ReplaceAll(val, `\r`, "\r")
		return val
	default:
		return v
	}
}
