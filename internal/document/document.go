// Package document handles requirement document intake: reading a source
// file, normalizing its text, and slicing it into independent requirement
// chunks that pipeline units consume. Binary formats (PDF, Word) are the
// job of an external extractor; this package accepts the text formats it
// can read directly and rejects the rest up front.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ParseError reports an input document that could not be turned into
// requirement chunks. It is fatal for the document, not for the process.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("document %s: %s", e.Path, e.Reason)
}

var supportedExtensions = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
}

// Chunk is one normalized requirement slice plus its source locator.
// Immutable once created.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
}

// Locator renders the chunk's source position for error reports.
func (c Chunk) Locator() string {
	return fmt.Sprintf("%s#chunk%d", c.DocumentID, c.Index)
}

// ChunkOptions tunes document slicing.
type ChunkOptions struct {
	// MaxChunkRunes caps a single chunk's size. Paragraphs are packed into a
	// chunk until adding the next one would exceed the cap. Values <= 0 use
	// the default.
	MaxChunkRunes int
}

const defaultMaxChunkRunes = 6000

// Read loads a requirement document, normalizes its whitespace, and splits
// it into chunks. The document id is the file's base name.
func Read(path string, opts ChunkOptions) ([]Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("unsupported format %q (pdf/docx need external extraction)", ext)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	chunks := Split(filepath.Base(path), string(data), opts)
	if len(chunks) == 0 {
		return nil, &ParseError{Path: path, Reason: "document contains no text"}
	}
	return chunks, nil
}

// Split normalizes an already-extracted text blob and packs its paragraphs
// into chunks. Exposed separately so externally extracted documents enter
// the pipeline through the same path.
func Split(documentID, text string, opts ChunkOptions) []Chunk {
	limit := opts.MaxChunkRunes
	if limit <= 0 {
		limit = defaultMaxChunkRunes
	}
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentLen := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       strings.Join(current, "\n\n"),
		})
		current = nil
		currentLen = 0
	}
	for _, para := range paragraphs {
		runes := len([]rune(para))
		if currentLen > 0 && currentLen+runes > limit {
			flush()
		}
		current = append(current, para)
		currentLen += runes
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var paragraphs []string
	for _, block := range strings.Split(normalized, "\n\n") {
		// collapse intra-paragraph whitespace the way the analyst prompt expects
		fields := strings.Fields(block)
		if len(fields) == 0 {
			continue
		}
		paragraphs = append(paragraphs, strings.Join(fields, " "))
	}
	return paragraphs
}
