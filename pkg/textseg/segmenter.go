// Package textseg cuts streamed answer text into sentences so each one can
// be synthesized as soon as it is complete.
//
// The segmenter prefers cutting late over cutting wrong: a period after an
// abbreviation ("M. Dupont"), inside a number ("1.5") or inside an address
// ("www.ecole.fr") does not end a sentence. Sentences shorter than
// MinLength are held back and merged with the next one, and text that runs
// past MaxLength without punctuation is cut at a comma or a space.
//
//	seg := textseg.New(textseg.Config{})
//	for chunk := range chunks {
//		for _, s := range seg.Feed(chunk) {
//			speak(s)
//		}
//	}
//	if rest := seg.Flush(); rest != "" {
//		speak(rest)
//	}
package textseg

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config bounds sentence length, in runes.
type Config struct {
	// MinLength holds back short pieces such as "Oui." so that speech is not
	// synthesized in tiny fragments. Default 10.
	MinLength int
	// MaxLength forces a cut in unpunctuated text. Default 200.
	MaxLength int
}

// Segmenter accumulates text. It is not safe for concurrent use.
type Segmenter struct {
	cfg    Config
	buffer strings.Builder
}

// New creates a segmenter.
func New(cfg Config) *Segmenter {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 10
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 200
	}
	return &Segmenter{cfg: cfg}
}

var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true, '…': true}

var softBreaks = map[rune]bool{',': true, ':': true, ';': true}

// Titles are followed by a name, never by a new sentence.
var titles = map[string]bool{
	"m": true, "mm": true, "mme": true, "mmes": true, "mlle": true, "mlles": true,
	"dr": true, "pr": true, "me": true, "st": true, "ste": true,
}

var abbreviations = map[string]bool{
	"etc": true, "ex": true, "cf": true, "env": true, "av": true, "bd": true,
	"tél": true, "tel": true, "min": true, "max": true, "hr": true, "p": true,
	"vol": true, "réf": true, "ref": true, "n°": true, "no": true,
}

var numberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+\.\d*$`),
	regexp.MustCompile(`\d+\.\d+\.\d*$`),
}

var addressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://\S*$`),
	regexp.MustCompile(`www\.\S*$`),
	regexp.MustCompile(`\S+@\S+\.\S*$`),
	regexp.MustCompile(`\S+\.(fr|com|org|net|io|eu)$`),
}

// Feed adds text and returns the sentences it completed, in order.
func (s *Segmenter) Feed(text string) []string {
	if text == "" {
		return nil
	}
	s.buffer.WriteString(text)

	var out []string
	for {
		content := s.buffer.String()
		cut := s.findBreak(content)
		if cut <= 0 {
			return out
		}
		sentence := strings.TrimSpace(content[:cut])
		if utf8.RuneCountInString(sentence) < s.cfg.MinLength && utf8.RuneCountInString(content) < s.cfg.MaxLength {
			if next := s.findBreakAfter(content, cut); next > 0 {
				cut = next
				sentence = strings.TrimSpace(content[:cut])
			} else {
				return out
			}
		}
		s.buffer.Reset()
		s.buffer.WriteString(content[cut:])
		if sentence != "" {
			out = append(out, sentence)
		}
	}
}

// Flush returns whatever is buffered and empties the segmenter.
func (s *Segmenter) Flush() string {
	rest := strings.TrimSpace(s.buffer.String())
	s.buffer.Reset()
	return rest
}

// findBreakAfter looks for the next sentence end past from, so that a short
// sentence is merged with the one following it.
func (s *Segmenter) findBreakAfter(text string, from int) int {
	next := s.findBreak(text[from:])
	if next <= 0 {
		return 0
	}
	return from + next
}

// findBreak returns the byte offset just after the first sentence end, or 0.
func (s *Segmenter) findBreak(text string) int {
	runes := []rune(text)
	pos := 0
	for i, r := range runes {
		if i >= s.cfg.MaxLength {
			break
		}
		pos += utf8.RuneLen(r)
		if !sentenceEnders[r] {
			continue
		}
		// keep runs like "?!" or "..." together
		if i+1 < len(runes) && sentenceEnders[runes[i+1]] {
			continue
		}
		if r == '.' && s.isSpecialCase(text[:pos], text[pos:]) {
			continue
		}
		if i+1 == len(runes) {
			// the next chunk may still continue a number or an address
			if r == '.' && trailingToken(text[:pos]) {
				return 0
			}
		}
		return pos
	}

	if len(runes) >= s.cfg.MaxLength {
		return s.forcedBreak(runes)
	}
	return 0
}

func (s *Segmenter) forcedBreak(runes []rune) int {
	limit := min(len(runes), s.cfg.MaxLength)
	for i := limit - 1; i >= s.cfg.MinLength; i-- {
		if softBreaks[runes[i]] {
			return len(string(runes[:i+1]))
		}
	}
	for i := limit - 1; i >= s.cfg.MinLength; i-- {
		if unicode.IsSpace(runes[i]) {
			return len(string(runes[:i+1]))
		}
	}
	return len(string(runes[:limit]))
}

// isSpecialCase reports whether a period does not end the sentence.
func (s *Segmenter) isSpecialCase(before, after string) bool {
	word := lastWord(before)
	if titles[word] {
		return true
	}
	if abbreviations[word] {
		return !startsSentence(after)
	}
	for _, p := range numberPatterns {
		if p.MatchString(before) && after != "" && !startsSentence(after) {
			return true
		}
	}
	for _, p := range addressPatterns {
		if p.MatchString(before) && after != "" && !startsSentence(after) {
			return true
		}
	}
	if after != "" {
		next, _ := utf8.DecodeRuneInString(after)
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return true
		}
	}
	return false
}

// trailingToken reports whether the text ends with a token that a later
// chunk may extend across the period.
func trailingToken(before string) bool {
	if titles[lastWord(before)] {
		return true
	}
	for _, p := range numberPatterns {
		if p.MatchString(before) {
			return true
		}
	}
	for _, p := range addressPatterns[:2] {
		if p.MatchString(before) {
			return true
		}
	}
	return false
}

func lastWord(before string) string {
	fields := strings.Fields(strings.TrimSuffix(before, "."))
	if len(fields) == 0 {
		return ""
	}
	w := strings.ToLower(fields[len(fields)-1])
	return strings.TrimLeft(strings.TrimSuffix(w, "."), "(\"«")
}

func startsSentence(after string) bool {
	trimmed := strings.TrimLeft(after, " \t\n")
	if trimmed == "" || len(trimmed) == len(after) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(trimmed)
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}
