// Package transcript corrects recognized text against a fixed vocabulary of
// names and jargon that speech recognizers tend to mishear.
//
// Matching combines two signals from github.com/antzucaro/matchr:
//
//  1. Double Metaphone codes of the candidate phrase and the term, compared on
//     the concatenated words so "elder nacks" and "Eldrinax" share a code.
//  2. Jaro-Winkler similarity, case-insensitive, on the spaced and the
//     concatenated forms.
//
// A phonetic hit needs a lower similarity to be accepted than a purely
// spelling-based one. Candidate phrases are windows of consecutive words no
// more than one word longer or shorter than the term; a window whose word
// count differs from the term's only matches phonetically.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minRunes keeps short function words ("a", "of") from being rewritten.
	minRunes = 3
)

// Correction records one substitution made by [Vocabulary.Correct].
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
	Phonetic   bool    `json:"phonetic"`
}

// Option configures a [Vocabulary].
type Option func(*Vocabulary)

// WithPhoneticThreshold sets the minimum similarity for a phonetically
// matching phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(v *Vocabulary) { v.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for a phrase with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(v *Vocabulary) { v.fuzzyThreshold = threshold }
}

// Vocabulary is an immutable set of preferred spellings. A nil *Vocabulary is
// valid and corrects nothing. Safe for concurrent use.
type Vocabulary struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// term holds everything about a vocabulary entry that matching needs, computed
// once at construction.
type term struct {
	text   string
	lower  string
	words  int
	joined string
	codes  [2]string
}

// New builds a vocabulary from terms. Blank and duplicate entries are
// ignored; the first spelling of a duplicate wins.
func New(terms []string, opts ...Option) *Vocabulary {
	v := &Vocabulary{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, raw := range terms {
		text := strings.Join(strings.Fields(raw), " ")
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		words := strings.Fields(lower)
		joined := strings.Join(words, "")
		t := term{text: text, lower: lower, words: len(words), joined: joined}
		t.codes[0], t.codes[1] = matchr.DoubleMetaphone(joined)
		v.terms = append(v.terms, t)
		v.maxWords = max(v.maxWords, t.words)
	}
	return v
}

// Len returns the number of distinct terms.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Terms returns the preferred spellings in insertion order.
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.terms))
	for i, t := range v.terms {
		out[i] = t.text
	}
	return out
}

// Prompt renders the terms as a comma-separated recognition prompt, or ""
// for an empty vocabulary.
func (v *Vocabulary) Prompt() string {
	return strings.Join(v.Terms(), ", ")
}

// Match returns the term closest to phrase. When matched is false corrected
// is phrase unchanged and confidence is 0.
func (v *Vocabulary) Match(phrase string) (corrected string, confidence float64, matched bool) {
	words := strings.Fields(strings.ToLower(phrase))
	if v.Len() == 0 || len(words) == 0 {
		return phrase, 0, false
	}
	best, ok := v.best(words)
	if !ok {
		return phrase, 0, false
	}
	return best.term.text, best.score, true
}

type candidate struct {
	term     *term
	score    float64
	phonetic bool
}

// better reports whether c should replace cur. Phonetic hits win over fuzzy
// ones, then the higher score.
func (c candidate) better(cur candidate) bool {
	if cur.term == nil {
		return true
	}
	if c.phonetic != cur.phonetic {
		return c.phonetic
	}
	return c.score > cur.score
}

// best scores the lower-cased words against every term.
func (v *Vocabulary) best(words []string) (candidate, bool) {
	spaced := strings.Join(words, " ")
	joined := strings.Join(words, "")
	if utf8.RuneCountInString(joined) < minRunes {
		return candidate{}, false
	}
	p, s := matchr.DoubleMetaphone(joined)

	var best candidate
	for i := range v.terms {
		t := &v.terms[i]
		if d := len(words) - t.words; d > 1 || d < -1 {
			continue
		}
		score := matchr.JaroWinkler(spaced, t.lower, false)
		if len(words) > 1 || t.words > 1 {
			score = max(score, matchr.JaroWinkler(joined, t.joined, false))
		}
		phonetic := codesOverlap(p, s, t.codes)

		var accept bool
		switch {
		case phonetic:
			accept = score >= v.phoneticThreshold
		case len(words) == t.words:
			accept = score >= v.fuzzyThreshold
		}
		if !accept {
			continue
		}
		if c := (candidate{term: t, score: score, phonetic: phonetic}); c.better(best) {
			best = c
		}
	}
	return best, best.term != nil
}

func codesOverlap(primary, secondary string, codes [2]string) bool {
	for _, c := range [2]string{primary, secondary} {
		if c != "" && (c == codes[0] || c == codes[1]) {
			return true
		}
	}
	return false
}

// token is one whitespace-separated word split into surrounding punctuation
// and the core that is matched.
type token struct {
	prefix, core, suffix string
}

func splitToken(s string) token {
	core := strings.TrimLeftFunc(s, unicode.IsPunct)
	prefix := s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	suffix := core[len(trimmed):]
	core = trimmed
	for _, poss := range []string{"'s", "’s"} {
		if base, ok := strings.CutSuffix(core, poss); ok && base != "" {
			core, suffix = base, poss+suffix
			break
		}
	}
	return token{prefix: prefix, core: core, suffix: suffix}
}

// Correct rewrites every phrase of text that matches a vocabulary term. Words
// are scanned left to right; at each position every window that can match a
// term is scored and the best one is taken, preferring the longer window on
// ties. Surrounding punctuation and possessives are kept. When nothing
// changes text is returned as is.
func (v *Vocabulary) Correct(text string) (string, []Correction) {
	if v.Len() == 0 {
		return text, nil
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text, nil
	}
	tokens := make([]token, len(fields))
	for i, f := range fields {
		tokens[i] = splitToken(f)
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		var (
			best  candidate
			bestN int
		)
		for n := 1; n <= v.maxWords+1 && i+n <= len(tokens); n++ {
			window := tokens[i : i+n]
			if !joinable(window) {
				break
			}
			words := make([]string, 0, n)
			for _, t := range window {
				words = append(words, strings.ToLower(t.core))
			}
			c, ok := v.best(words)
			if !ok {
				continue
			}
			if best.term == nil || c.better(best) || (c.score == best.score && c.phonetic == best.phonetic) {
				best, bestN = c, n
			}
		}

		if best.term == nil {
			out = append(out, fields[i])
			i++
			continue
		}
		window := tokens[i : i+bestN]
		original := coreText(window)
		replaced := window[0].prefix + best.term.text + window[bestN-1].suffix
		out = append(out, replaced)
		if original != best.term.text {
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  best.term.text,
				Confidence: best.score,
				Phonetic:   best.phonetic,
			})
		}
		i += bestN
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// joinable reports whether window can be read as one phrase: no punctuation
// between its words and no empty cores.
func joinable(window []token) bool {
	for j, t := range window {
		if t.core == "" {
			return false
		}
		if j > 0 && t.prefix != "" {
			return false
		}
		if j < len(window)-1 && t.suffix != "" {
			return false
		}
	}
	return true
}

func coreText(window []token) string {
	parts := make([]string, len(window))
	for j, t := range window {
		parts[j] = t.core
	}
	return strings.Join(parts, " ")
}
