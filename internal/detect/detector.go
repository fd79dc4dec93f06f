// Package detect scans generated content for phrasing patterns typical of
// machine-written text so the workflow can rewrite flagged passages.
package detect

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "embed"
)

//go:embed patterns.json
var patternsJSON []byte

// excerptContext is how many characters around the first and last match are
// included in Report.Excerpt.
const excerptContext = 100

// Match is a single flagged span. Start/End are byte offsets into the scanned
// content, end exclusive.
type Match struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
	Text     string `json:"text"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Report summarises a scan.
type Report struct {
	Detected bool    `json:"detected"`
	Count    int     `json:"count"`
	Matches  []Match `json:"matches,omitempty"`
	Excerpt  string  `json:"excerpt,omitempty"`
}

type patternFile struct {
	Patterns []struct {
		Category string   `json:"category"`
		Patterns []string `json:"patterns"`
	} `json:"patterns"`
	Phrases []string `json:"phrases"`
}

type compiledPattern struct {
	re       *regexp.Regexp
	source   string
	category string
}

var (
	compileOnce sync.Once
	compiled    []compiledPattern
	compileErr  error
)

func compiledPatterns() ([]compiledPattern, error) {
	compileOnce.Do(func() {
		var file patternFile
		if err := json.Unmarshal(patternsJSON, &file); err != nil {
			compileErr = fmt.Errorf("parse pattern data: %w", err)
			return
		}
		for _, cat := range file.Patterns {
			for _, p := range cat.Patterns {
				re, err := regexp.Compile(p)
				if err != nil {
					compileErr = fmt.Errorf("compile pattern %q: %w", p, err)
					return
				}
				compiled = append(compiled, compiledPattern{re: re, source: p, category: cat.Category})
			}
		}
		for _, phrase := range file.Phrases {
			if strings.TrimSpace(phrase) == "" {
				continue
			}
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
			if err != nil {
				compileErr = fmt.Errorf("compile phrase %q: %w", phrase, err)
				return
			}
			compiled = append(compiled, compiledPattern{re: re, source: phrase, category: "Common Phrases"})
		}
	})
	return compiled, compileErr
}

// Scanner scans content against the embedded pattern set. Threshold is the
// minimum match count before NeedsEdit reports true; values below 1 are
// treated as 1.
type Scanner struct {
	threshold int
	logger    *log.Logger
}

// NewScanner builds a Scanner with the given sensitivity threshold.
func NewScanner(threshold int, logger *log.Logger) *Scanner {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[DETECT] ", log.LstdFlags)
	}
	return &Scanner{threshold: threshold, logger: logger}
}

// Scan returns every flagged span in content, sorted by start offset. It never
// fails: a pattern-set problem is logged and yields an empty report.
func (s *Scanner) Scan(content string) Report {
	if content == "" {
		return Report{}
	}
	patterns, err := compiledPatterns()
	if err != nil {
		s.logger.Printf("warn: pattern set unavailable: %v", err)
		return Report{}
	}

	var matches []Match
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matches = append(matches, Match{
				Pattern:  p.source,
				Category: p.category,
				Text:     content[loc[0]:loc[1]],
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End < matches[j].End
	})

	report := Report{
		Detected: len(matches) > 0,
		Count:    len(matches),
		Matches:  matches,
	}
	if len(matches) > 0 {
		start := matches[0].Start - excerptContext
		if start < 0 {
			start = 0
		}
		end := matches[len(matches)-1].End + excerptContext
		if end > len(content) {
			end = len(content)
		}
		report.Excerpt = content[start:end]
	}
	return report
}

// NeedsEdit reports whether the match count reaches the scanner threshold.
func (s *Scanner) NeedsEdit(report Report) bool {
	return report.Count >= s.threshold
}
