// Package ingest loads the reference corpus that grounds content generation.
// Plain text and markdown files are read as-is; HTML files go through
// readability extraction first.
package ingest

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Document is one loaded reference source.
type Document struct {
	Path    string
	Title   string
	Content string
}

// Loader reads reference material from a directory tree.
type Loader struct {
	logger *log.Logger
}

// NewLoader builds a Loader.
func NewLoader(logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Loader{logger: logger}
}

// LoadDir walks dir and loads every supported file, sorted by path so corpus
// assembly is deterministic. Unreadable files are skipped with a warning;
// an empty corpus is an error.
func (l *Loader) LoadDir(dir string) ([]Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md", ".markdown", ".html", ".htm":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk reference dir: %w", err)
	}
	sort.Strings(paths)

	var docs []Document
	for _, path := range paths {
		doc, err := l.loadFile(path)
		if err != nil {
			l.logger.Printf("warn: skipping %s: %v", path, err)
			continue
		}
		if strings.TrimSpace(doc.Content) == "" {
			l.logger.Printf("warn: skipping empty document %s", path)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no reference documents found under %s", dir)
	}
	return docs, nil
}

func (l *Loader) loadFile(path string) (Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return l.loadHTML(path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		return Document{
			Path:    path,
			Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Content: string(data),
		}, nil
	}
}

func (l *Loader) loadHTML(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	u := &url.URL{Scheme: "file", Path: path}
	article, err := readability.FromReader(f, u)
	if err != nil {
		return Document{}, fmt.Errorf("readability extraction: %w", err)
	}
	title := article.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Document{Path: path, Title: title, Content: article.TextContent}, nil
}

// Corpus joins documents into the single text the chunk index is built from.
// Each document is prefixed with its title so retrieval hits stay traceable.
func Corpus(docs []Document) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "# %s\n\n%s", d.Title, strings.TrimSpace(d.Content))
	}
	return b.String()
}
