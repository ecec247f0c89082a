// Package loader reads catalog documents (metadata types, products,
// datasets and lineage trees) from YAML or JSON files.
package loader

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/provcat/pkg/core"
)

// Extensions lists the file extensions the loader reads.
var Extensions = []string{".yaml", ".yml", ".json"}

// DocumentParseError reports a document that could not be decoded.
type DocumentParseError struct {
	File    string
	Index   int // 0-based position of the document in a multi-document stream
	Message string
}

func (e *DocumentParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: document %d: %s", e.File, e.Index+1, e.Message)
	}
	return fmt.Sprintf("document %d: %s", e.Index+1, e.Message)
}

// Decode yields every document of a YAML stream. JSON is valid YAML, so a
// JSON file decodes as a single document. Empty documents are skipped.
// Decoding stops at the first malformed document.
func Decode(r io.Reader, name string) iter.Seq2[core.Document, error] {
	return func(yield func(core.Document, error) bool) {
		dec := yaml.NewDecoder(r)
		for i := 0; ; i++ {
			var doc core.Document
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, &DocumentParseError{File: name, Index: i, Message: err.Error()})
				return
			}
			if len(doc) == 0 {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// ReadFile yields the documents of the file at path.
func ReadFile(path string) iter.Seq2[core.Document, error] {
	return func(yield func(core.Document, error) bool) {
		f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
		if err != nil {
			yield(nil, fmt.Errorf("failed to open %s: %w", path, err))
			return
		}
		defer func() { _ = f.Close() }()

		for doc, err := range Decode(f, path) {
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

// ReadFiles yields the documents of every file in paths, in order.
func ReadFiles(paths []string) iter.Seq2[core.Document, error] {
	return func(yield func(core.Document, error) bool) {
		for _, path := range paths {
			for doc, err := range ReadFile(path) {
				if !yield(doc, err) {
					return
				}
			}
		}
	}
}

// IsDocumentFile reports whether path has a document extension and is not
// hidden.
func IsDocumentFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
		return false
	}
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(base)))
}

// ScanDir returns the document files under dir, sorted, skipping hidden
// files and directories.
func ScanDir(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsDocumentFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}
