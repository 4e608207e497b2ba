package state

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	numericTokenRe = regexp.MustCompile(`\d+(?:\.\d+)?%?`)
	cjkKeywordRe   = regexp.MustCompile(`[\p{Han}]{2,4}`)
)

// Fingerprint computes a short dedup hash over the salient tokens of a
// fact: up to 3 numeric tokens plus up to 5 CJK keyword tokens, md5-hashed
// and truncated to 16 hex chars. Facts describing the same figure in the
// same terms collide even when the surrounding prose differs.
func Fingerprint(content string) string {
	numbers := numericTokenRe.FindAllString(content, 3)
	keywords := cjkKeywordRe.FindAllString(content, 5)

	tokens := make([]string, 0, len(numbers)+len(keywords))
	tokens = append(tokens, numbers...)
	tokens = append(tokens, keywords...)
	if len(tokens) == 0 {
		// No salient tokens; fall back to the normalized text itself.
		tokens = []string{strings.ToLower(strings.TrimSpace(content))}
	}

	sum := md5.Sum([]byte(strings.Join(tokens, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
