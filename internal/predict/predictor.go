// Package predict suggests word completions, next words and whole phrases
// for the text typed so far.
//
// Suggestions carry the text to insert rather than the full word: typing
// "HEL" and selecting "hello" inserts "LO". Inserted text follows the case
// of what was typed when that was all upper case.
package predict

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxSuggestions is the size of the combined suggestion list.
const DefaultMaxSuggestions = 3

// Kind is the source of a suggestion.
type Kind int

const (
	KindCompletion Kind = iota
	KindNextWord
	KindPhrase
)

func (k Kind) String() string {
	switch k {
	case KindCompletion:
		return "completion"
	case KindNextWord:
		return "next_word"
	case KindPhrase:
		return "phrase"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Suggestion is one candidate. Label is the whole word or phrase; Insert is
// what committing it appends to the buffer.
type Suggestion struct {
	Label  string `json:"label"`
	Insert string `json:"insert"`
	Kind   Kind   `json:"kind"`
}

var wordPattern = regexp.MustCompile(`\w+`)

// Predictor holds a vocabulary. It is safe for concurrent use.
type Predictor struct {
	mu      sync.RWMutex
	freq    map[string]int
	next    map[string][]string
	phrases []string
}

// New returns a predictor loaded with the built-in vocabulary.
func New() *Predictor {
	p := NewEmpty()
	p.Merge(Builtin())
	return p
}

// NewEmpty returns a predictor with no vocabulary.
func NewEmpty() *Predictor {
	return &Predictor{
		freq: make(map[string]int),
		next: make(map[string][]string),
	}
}

// Merge adds a vocabulary. Frequencies replace existing ones; next-word
// lists and phrases are appended without duplicates.
func (p *Predictor) Merge(v *Vocabulary) {
	if v == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for w, f := range v.WordFrequencies {
		p.freq[strings.ToLower(w)] = f
	}
	for w, list := range v.NextWordPredictions {
		w = strings.ToLower(w)
		for _, n := range list {
			p.next[w] = appendUnique(p.next[w], n)
		}
	}
	for _, ph := range v.Phrases {
		p.phrases = appendUnique(p.phrases, ph)
	}
}

// Vocabulary exports the current vocabulary.
func (p *Predictor) Vocabulary() *Vocabulary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v := &Vocabulary{
		WordFrequencies:     make(map[string]int, len(p.freq)),
		NextWordPredictions: make(map[string][]string, len(p.next)),
		Phrases:             append([]string(nil), p.phrases...),
	}
	for w, f := range p.freq {
		v.WordFrequencies[w] = f
	}
	for w, list := range p.next {
		v.NextWordPredictions[w] = append([]string(nil), list...)
	}
	return v
}

// Frequency returns the frequency of a word.
func (p *Predictor) Frequency(word string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freq[strings.ToLower(word)]
}

// Learn counts every word of text and records each adjacent pair for
// next-word prediction. It returns the words seen, lower-cased.
func (p *Predictor) Learn(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range words {
		p.freq[w]++
	}
	for i := 0; i+1 < len(words); i++ {
		p.next[words[i]] = appendUnique(p.next[words[i]], words[i+1])
	}
	return words
}

// AddPhrase adds a phrase and learns its words. It reports false for an
// empty or known phrase.
func (p *Predictor) AddPhrase(phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	p.mu.Lock()
	for _, ph := range p.phrases {
		if ph == phrase {
			p.mu.Unlock()
			return false
		}
	}
	p.phrases = append(p.phrases, phrase)
	p.mu.Unlock()

	p.Learn(phrase)
	return true
}

// Completions returns words that extend partial, most frequent first. The
// partial word itself is never suggested.
func (p *Predictor) Completions(partial string, max int) []Suggestion {
	if partial == "" || max <= 0 {
		return nil
	}
	lower := strings.ToLower(partial)

	p.mu.RLock()
	var words []string
	for w := range p.freq {
		if strings.HasPrefix(w, lower) && w != lower {
			words = append(words, w)
		}
	}
	p.sortByFrequency(words)
	p.mu.RUnlock()

	if len(words) > max {
		words = words[:max]
	}
	out := make([]Suggestion, 0, len(words))
	for _, w := range words {
		out = append(out, Suggestion{
			Label:  w,
			Insert: matchCase(w[len(lower):], partial),
			Kind:   KindCompletion,
		})
	}
	return out
}

// NextWords returns words likely to follow word. Unknown or empty words fall
// back to the most frequent words.
func (p *Predictor) NextWords(word string, max int) []Suggestion {
	if max <= 0 {
		return nil
	}
	lower := strings.ToLower(word)

	p.mu.RLock()
	list, ok := p.next[lower]
	if !ok || lower == "" {
		list = p.mostCommon(max)
	}
	list = append([]string(nil), list...)
	p.mu.RUnlock()

	if len(list) > max {
		list = list[:max]
	}
	out := make([]Suggestion, 0, len(list))
	for _, w := range list {
		out = append(out, Suggestion{Label: w, Insert: matchCase(w, word), Kind: KindNextWord})
	}
	return out
}

// Phrases returns phrases for the typed text. Phrases starting with the
// whole text come first and insert their remainder. If that yields fewer
// than max, phrases containing a word that starts with the last typed word
// follow and insert the rest of the phrase from that word on.
func (p *Predictor) Phrases(text string, max int) []Suggestion {
	if max <= 0 {
		return nil
	}

	p.mu.RLock()
	phrases := append([]string(nil), p.phrases...)
	p.mu.RUnlock()

	if text == "" {
		if len(phrases) > max {
			phrases = phrases[:max]
		}
		out := make([]Suggestion, 0, len(phrases))
		for _, ph := range phrases {
			out = append(out, Suggestion{Label: ph, Insert: ph, Kind: KindPhrase})
		}
		return out
	}

	var out []Suggestion
	seen := make(map[string]bool)

	for _, ph := range phrases {
		if end, ok := foldedPrefixEnd(ph, text); ok && end < len(ph) {
			out = append(out, Suggestion{Label: ph, Insert: matchCase(ph[end:], text), Kind: KindPhrase})
			seen[ph] = true
			if len(out) >= max {
				return out
			}
		}
	}

	last := lastWord(text)
	if last == "" {
		return out
	}
	for _, ph := range phrases {
		if seen[ph] {
			continue
		}
		end, ok := wordPrefixEnd(ph, last)
		if !ok || end >= len(ph) {
			continue
		}
		out = append(out, Suggestion{Label: ph, Insert: matchCase(ph[end:], last), Kind: KindPhrase})
		if len(out) >= max {
			break
		}
	}
	return out
}

// Suggest returns the combined list for text: completions of the last word
// (when text does not end in a space), next words (when it does), then
// phrases. Duplicate inserts are dropped and the list is cut to max.
func (p *Predictor) Suggest(text string, max int) []Suggestion {
	if text == "" || max <= 0 {
		return nil
	}

	var all []Suggestion
	endsWithSpace := strings.HasSuffix(text, " ")
	if endsWithSpace {
		all = append(all, p.NextWords(lastWord(strings.TrimRight(text, " ")), max)...)
	} else {
		all = append(all, p.Completions(lastWord(text), max)...)
	}
	all = append(all, p.Phrases(text, max)...)

	out := make([]Suggestion, 0, max)
	seen := make(map[string]bool)
	for _, s := range all {
		if s.Insert == "" || seen[s.Insert] {
			continue
		}
		seen[s.Insert] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// sortByFrequency orders words by descending frequency, then
// alphabetically. Caller holds the lock.
func (p *Predictor) sortByFrequency(words []string) {
	sort.Slice(words, func(i, j int) bool {
		fi, fj := p.freq[words[i]], p.freq[words[j]]
		if fi != fj {
			return fi > fj
		}
		return words[i] < words[j]
	})
}

// mostCommon returns the n most frequent words. Caller holds the lock.
func (p *Predictor) mostCommon(n int) []string {
	words := make([]string, 0, len(p.freq))
	for w := range p.freq {
		words = append(words, w)
	}
	p.sortByFrequency(words)
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func lastWord(text string) string {
	if i := strings.LastIndexByte(text, ' '); i >= 0 {
		return text[i+1:]
	}
	return text
}

// foldedPrefixEnd reports whether s starts with prefix, ignoring case, and
// returns the byte offset in s just past the match. Runes are compared one
// by one because lower-casing can change their encoded length.
func foldedPrefixEnd(s, prefix string) (int, bool) {
	i := 0
	for _, pr := range prefix {
		if i >= len(s) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.ToLower(r) != unicode.ToLower(pr) {
			return 0, false
		}
		i += size
	}
	return i, true
}

// wordPrefixEnd finds the first word of s that starts with prefix, ignoring
// case, and returns the byte offset in s just past the match.
func wordPrefixEnd(s, prefix string) (int, bool) {
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i-1] != ' ' {
			continue
		}
		if n, ok := foldedPrefixEnd(s[i:], prefix); ok {
			return i + n, true
		}
	}
	return 0, false
}

// matchCase upper-cases s when typed is non-empty and has no lower-case
// letters but at least one upper-case letter.
func matchCase(s, typed string) string {
	hasUpper := false
	for _, r := range typed {
		if unicode.IsLower(r) {
			return s
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		}
	}
	if hasUpper {
		return strings.ToUpper(s)
	}
	return s
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
