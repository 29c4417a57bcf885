// Package textcheck scores the lexical quality of free-text input. It is an
// advisory signal: it feeds a confidence penalty into the risk computation
// but never triggers enforcement on its own.
package textcheck

import (
	_ "embed"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed words.txt
var lexiconData string

const (
	// NeutralQuality is returned for inputs too short to score meaningfully.
	NeutralQuality = 50.0

	// GibberishRatio is the unrecognized-token proportion above which input
	// is flagged as gibberish.
	GibberishRatio = 0.6

	// minScorableLength is the shortest input we compute a real ratio for.
	minScorableLength = 5

	// gibberishPenalty is the confidence penalty applied for gibberish input.
	gibberishPenalty = 50.0
)

// Result is the ephemeral output of a quality check; it is not persisted.
type Result struct {
	Quality           float64 `json:"text_quality"`
	Gibberish         bool    `json:"is_gibberish"`
	ConfidencePenalty float64 `json:"confidence_penalty"`
}

// Checker recognizes tokens against an embedded lexicon.
type Checker struct {
	words map[string]struct{}
}

// New builds a Checker from the embedded word list.
func New() *Checker {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(lexiconData) {
		words[w] = struct{}{}
	}
	return &Checker{words: words}
}

// Check scores one free-text string. Inputs shorter than 5 characters
// short-circuit to the neutral quality instead of computing a ratio over too
// few tokens; an empty token list scores 0. Gibberish is flagged when more
// than 60% of tokens are unrecognized.
func (c *Checker) Check(text string) Result {
	tokens := tokenize(text)
	known := 0
	for _, tok := range tokens {
		if _, ok := c.words[tok]; ok {
			known++
		}
	}

	res := Result{Gibberish: true}
	if len(tokens) > 0 {
		unknownRatio := float64(len(tokens)-known) / float64(len(tokens))
		res.Gibberish = unknownRatio > GibberishRatio
	}
	if res.Gibberish {
		res.ConfidencePenalty = gibberishPenalty
	}

	switch {
	case utf8.RuneCountInString(text) < minScorableLength:
		res.Quality = NeutralQuality
	case len(tokens) == 0:
		res.Quality = 0
	default:
		res.Quality = float64(known) / float64(len(tokens)) * 100
	}
	return res
}

// tokenize lowercases and strips edge punctuation from whitespace-separated
// tokens, dropping anything left empty.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
