// Package analyzer holds the text utilities shared by ranking and prompt
// budgeting: a word tokenizer and model token counters.
package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer splits text into lowercased words with stopwords removed.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer creates a new Tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopwords: defaultStopwords()}
}

// Tokenize splits text into tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// Terms returns the distinct tokens of text with their frequencies.
func (t *Tokenizer) Terms(text string) map[string]int {
	terms := make(map[string]int)
	for _, tok := range t.Tokenize(text) {
		terms[tok]++
	}
	return terms
}

// CountTokens returns an approximate token count for LLM budget estimation.
// An average word costs about 1.3 subword tokens.
func (t *Tokenizer) CountTokens(text string) int {
	words := splitWords(text)
	if len(words) == 0 {
		return 0
	}
	return int(float64(len(words))*1.3) + 1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return !isWordRune(r) })
}

// englishStopwords are dropped before lexical scoring.
var englishStopwords = strings.Fields(`
	a an and are as at be by for from has he in is it its of on
	that the to was were will with this have had but not you your
	we our they their she her his if or so no can do does did been
	being would could should may might must shall which who whom
	what when where why how all each every both few more most other
	some such than too very just also please
`)

func defaultStopwords() map[string]struct{} {
	m := make(map[string]struct{}, len(englishStopwords))
	for _, s := range englishStopwords {
		m[s] = struct{}{}
	}
	return m
}
