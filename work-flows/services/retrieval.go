package services

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"unicode"
)

// Retriever returns the k most relevant text chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// RetrievedContext is what a generation prompt may use.
type RetrievedContext struct {
	Text         string
	Sufficient   bool
	ChunkCount   int
	FailureCause string
}

// BuildContext joins retrieved chunks with a blank line. A failed call or a
// result shorter than minChars is reported as insufficient and its text is
// dropped so it never reaches a prompt.
func BuildContext(ctx context.Context, r Retriever, query string, k, minChars int) RetrievedContext {
	if r == nil {
		return RetrievedContext{FailureCause: "no retriever configured"}
	}

	chunks, err := r.Retrieve(ctx, query, k)
	if err != nil {
		return RetrievedContext{FailureCause: err.Error()}
	}

	kept := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			kept = append(kept, chunk)
		}
	}
	text := strings.Join(kept, "\n\n")

	if len(text) < minChars {
		return RetrievedContext{
			ChunkCount:   len(kept),
			FailureCause: fmt.Sprintf("retrieved %d characters, need at least %d", len(text), minChars),
		}
	}

	return RetrievedContext{Text: text, Sufficient: true, ChunkCount: len(kept)}
}

type corpusChunk struct {
	title string
	text  string
	terms map[string]struct{}
	head  map[string]struct{}
}

// KeywordRetriever ranks corpus sections by how many query terms they share.
type KeywordRetriever struct {
	chunks []corpusChunk
}

// NewKeywordRetriever indexes every *.md file under dir in fsys. Each "## "
// heading starts a new chunk.
func NewKeywordRetriever(fsys fs.FS, dir string) (*KeywordRetriever, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus files: %w", err)
	}
	sort.Strings(files)

	kr := &KeywordRetriever{}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file %s: %w", file, err)
		}
		kr.AddDocument(string(data))
	}
	return kr, nil
}

// AddDocument splits a markdown document on "## " headings and indexes it.
func (kr *KeywordRetriever) AddDocument(doc string) {
	var title string
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if text == "" {
			return
		}
		full := text
		if title != "" {
			full = title + "\n" + text
		}
		kr.chunks = append(kr.chunks, corpusChunk{
			title: title,
			text:  full,
			terms: termSet(full),
			head:  termSet(title),
		})
		body.Reset()
	}

	for _, line := range strings.Split(doc, "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			title = strings.TrimSpace(heading)
			continue
		}
		if strings.HasPrefix(line, "# ") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
}

func (kr *KeywordRetriever) Len() int {
	return len(kr.chunks)
}

func (kr *KeywordRetriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 3
	}

	queryTerms := termSet(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, chunk := range kr.chunks {
		score := 0
		for term := range queryTerms {
			if _, ok := chunk.terms[term]; ok {
				score++
			}
			if _, ok := chunk.head[term]; ok {
				score += 2
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, kr.chunks[h.idx].text)
	}
	return out, nil
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "what": {}, "are": {}, "can": {},
	"how": {}, "does": {}, "from": {}, "this": {}, "that": {}, "about": {}, "under": {},
	"law": {}, "laws": {}, "pakistan": {}, "pakistani": {}, "section": {},
}

func termSet(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		terms[stem(w)] = struct{}{}
	}
	return terms
}

// stem folds the most common English plural endings.
func stem(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}
