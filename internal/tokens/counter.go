package tokens

import (
	"log"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is used when a model has no known mapping.
	DefaultEncoding = "cl100k_base"

	// DefaultCalibration compensates for drift between local tokenization and
	// what providers bill. Clamped to [0.9, 1.3] at construction.
	DefaultCalibration = 1.1

	minCalibration = 0.9
	maxCalibration = 1.3

	// fallbackCharsPerToken approximates English prose when no encoding is
	// available.
	fallbackCharsPerToken = 4.5
)

// encodingByPrefix maps model name prefixes to tiktoken encodings. Longest
// prefix wins.
var encodingByPrefix = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5":                "cl100k_base",
	"text-embedding-3":       "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
	"claude":                 "cl100k_base",
}

// Counter estimates token counts for prompt budgeting. It never returns an
// error: when an encoding cannot be loaded it degrades to a character-based
// estimate.
type Counter struct {
	calibration float64
	logger      *log.Logger

	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter builds a Counter with the given calibration factor. Zero means
// DefaultCalibration; out-of-range values are clamped.
func NewCounter(calibration float64, logger *log.Logger) *Counter {
	if calibration == 0 {
		calibration = DefaultCalibration
	}
	if calibration < minCalibration {
		calibration = minCalibration
	}
	if calibration > maxCalibration {
		calibration = maxCalibration
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TOKENS] ", log.LstdFlags)
	}
	return &Counter{
		calibration: calibration,
		logger:      logger,
		encodings:   make(map[string]*tiktoken.Tiktoken),
	}
}

// Count estimates tokens for text using the default encoding.
func (c *Counter) Count(text string) int {
	return c.countWithEncoding(text, DefaultEncoding)
}

// CountForModel estimates tokens for text as the given model would tokenize it.
func (c *Counter) CountForModel(text string, model string) int {
	return c.countWithEncoding(text, EncodingForModel(model))
}

// EncodingForModel resolves a model name to a tiktoken encoding by longest
// prefix match, defaulting to DefaultEncoding.
func EncodingForModel(model string) string {
	best := ""
	enc := DefaultEncoding
	for prefix, name := range encodingByPrefix {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			enc = name
		}
	}
	return enc
}

func (c *Counter) countWithEncoding(text, encoding string) int {
	if text == "" {
		return 0
	}
	enc := c.encoding(encoding)
	if enc == nil {
		return c.estimate(text)
	}
	n := len(enc.Encode(text, nil, nil))
	return int(math.Ceil(float64(n) * c.calibration))
}

func (c *Counter) encoding(name string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		c.logger.Printf("warn: encoding %s unavailable, using character estimate: %v", name, err)
		c.encodings[name] = nil
		return nil
	}
	c.encodings[name] = enc
	return enc
}

func (c *Counter) estimate(text string) int {
	return int(math.Ceil(float64(len(text)) / fallbackCharsPerToken))
}
