// Package summary produces a short study summary and key points from a
// lecture transcript.
package summary

import "strings"

// Result holds a derived study summary. It is recomputed on demand and
// never persisted.
type Result struct {
	Summary   string
	KeyPoints []string
}

// Provider converts transcript text into a Result.
type Provider interface {
	Summarize(text string) (Result, error)
}

// Heuristic is a deterministic summarizer: the first few sentences become
// the summary and short sentences become key points. Intended to be swapped
// for an LLM-backed provider without touching the pipeline.
type Heuristic struct{}

// NewHeuristic returns the default heuristic summarizer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Summarize implements Provider.
func (h *Heuristic) Summarize(text string) (Result, error) {
	sentences := splitSentences(text)

	summary := strings.Join(firstN(sentences, 3), " ")
	if summary == "" {
		summary = text
	}

	return Result{
		Summary:   summary,
		KeyPoints: selectKeyPoints(sentences),
	}, nil
}

// splitSentences breaks text on sentence delimiters and trims the pieces.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})

	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// selectKeyPoints prefers up to 5 short sentences (≤ 12 words); when none
// qualify it falls back to the first 3 sentences.
func selectKeyPoints(sentences []string) []string {
	if len(sentences) == 0 {
		return nil
	}

	var short []string
	for _, s := range sentences {
		if len(strings.Fields(s)) <= 12 {
			short = append(short, s)
		}
	}
	if len(short) == 0 {
		return firstN(sentences, 3)
	}
	return firstN(short, 5)
}

func firstN(items []string, n int) []string {
	if len(items) < n {
		n = len(items)
	}
	return items[:n]
}
