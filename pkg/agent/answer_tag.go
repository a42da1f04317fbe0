package agent

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultAnswerTag is the tag name whose pair delimits the extracted answer
// value when no override is configured.
const DefaultAnswerTag = "answer"

var (
	answerTagMu sync.Mutex
	answerTagRe = map[string]*regexp.Regexp{}
)

func answerTagPattern(tag string) *regexp.Regexp {
	answerTagMu.Lock()
	defer answerTagMu.Unlock()
	re, ok := answerTagRe[tag]
	if !ok {
		re = regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(tag) + `>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
		answerTagRe[tag] = re
	}
	return re
}

// ExtractAnswerTag returns the trimmed content between the first
// case-insensitive <tag>...</tag> pair in text, or "" when the pair is absent.
func ExtractAnswerTag(text, tag string) string {
	if tag == "" {
		tag = DefaultAnswerTag
	}
	m := answerTagPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
