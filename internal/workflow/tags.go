package workflow

import (
	"regexp"
	"strings"
	"sync"
)

// Model responses carry their payload in XML-style tags. extractTag pulls the
// first tagged section; when the tag is missing the whole response is returned
// with ok=false so callers can decide whether the raw text is acceptable.
func extractTag(response, tag string) (string, bool) {
	re := tagPattern(tag)
	if m := re.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return strings.TrimSpace(response), false
}

var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[string]*regexp.Regexp{}
)

func tagPattern(tag string) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()
	if re, ok := tagPatterns[tag]; ok {
		return re
	}
	re := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	tagPatterns[tag] = re
	return re
}
