/**
 * Error Corrector
 *
 * Lexical cleanup of recognized text: fixed misrecognition table, digit
 * repair for number-like words, fuzzy domain-term matching and spacing
 * normalization. Numeric validation is reported, never applied.
 */

package correction

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// CorrectionType classifies a recorded change
type CorrectionType string

const (
	WordCorrection       CorrectionType = "word_correction"
	NumberCorrection     CorrectionType = "number_correction"
	DomainMatch          CorrectionType = "domain_match"
	UnicodeNormalization CorrectionType = "unicode_normalization"
)

const (
	defaultMatchThreshold = 0.8
	maxLengthDifference   = 2
)

// Correction records one changed word
type Correction struct {
	Original  string         `json:"original"`
	Corrected string         `json:"corrected"`
	Type      CorrectionType `json:"correction_type"`
}

// NumberIssue is an advisory finding from ValidateNumbers
type NumberIssue struct {
	Value    string `json:"value"`
	Position int    `json:"position"`
	Issue    string `json:"issue"`
}

var (
	numberLikeChars = regexp.MustCompile(`[0-9OoIl|.,\-$%]`)
	numberPattern   = regexp.MustCompile(`[\$£€]?\s*[\d,]+\.?\d*\s*%?`)

	multiSpace       = regexp.MustCompile(` +`)
	spaceBeforePunct = regexp.MustCompile(` ([.,;:!?])`)
	missingSpace     = regexp.MustCompile(`([.,;:!?])([A-Za-z])`)
	currencySpace    = regexp.MustCompile(`([\$£€¥]) +`)
	percentSpace     = regexp.MustCompile(`(\d) +%`)
)

var digitRepair = map[rune]rune{
	'O': '0', 'o': '0',
	'I': '1', 'l': '1', '|': '1',
	'S': '5', 's': '5',
	'B': '8',
	'Z': '2', 'z': '2',
}

// Corrector applies lexical corrections against a Dictionary
type Corrector struct {
	dict   *Dictionary
	logger *logging.Logger
}

// NewCorrector creates a corrector; a nil dictionary uses the defaults
func NewCorrector(dict *Dictionary) *Corrector {
	if dict == nil {
		dict = DefaultDictionary()
	}
	return &Corrector{dict: dict, logger: logging.NewLogger("ErrorCorrector")}
}

// Correct returns the corrected text and a record per changed word
func (c *Corrector) Correct(text string) (string, []Correction) {
	var records []Correction
	words := strings.Fields(text)
	out := make([]string, 0, len(words))

	for _, raw := range words {
		prefix, core, suffix := splitPunctuation(raw)
		if core == "" {
			out = append(out, prefix+suffix)
			continue
		}
		if folded := norm.NFKC.String(core); folded != core {
			records = append(records, Correction{Original: core, Corrected: folded, Type: UnicodeNormalization})
			core = folded
		}
		fixed, kind := c.correctWord(core)
		if fixed != core {
			records = append(records, Correction{Original: core, Corrected: fixed, Type: kind})
		}
		out = append(out, prefix+fixed+suffix)
	}

	corrected := fixSpacing(strings.Join(out, " "))
	if len(records) > 0 {
		c.logger.Debug("Error correction complete", "corrections", len(records))
	}
	return corrected, records
}

// CorrectTokens corrects each token's text and returns new tokens
func (c *Corrector) CorrectTokens(tokens []document.TextToken) ([]document.TextToken, []Correction) {
	out := make([]document.TextToken, len(tokens))
	var records []Correction
	for i, tok := range tokens {
		out[i] = tok
		fixed, recs := c.Correct(tok.Text)
		if fixed != "" {
			out[i].Text = fixed
		}
		records = append(records, recs...)
	}
	return out, records
}

func (c *Corrector) correctWord(word string) (string, CorrectionType) {
	lower := strings.ToLower(word)

	if fixed, ok := c.dict.Correction(lower); ok {
		return mirrorCase(word, fixed), WordCorrection
	}
	if c.dict.IsDomainWord(lower) {
		return word, ""
	}
	if looksNumeric(word) {
		if fixed := repairDigits(word); fixed != word {
			return fixed, NumberCorrection
		}
	}
	if match, ok := c.bestDomainMatch(lower); ok {
		return mirrorCase(word, match), DomainMatch
	}
	return word, ""
}

// bestDomainMatch scans terms alphabetically; only a strictly better score
// replaces the current best, so ties keep the earlier term.
func (c *Corrector) bestDomainMatch(lower string) (string, bool) {
	best, bestScore := "", defaultMatchThreshold
	n := utf8.RuneCountInString(lower)
	for _, term := range c.dict.sorted {
		diff := n - utf8.RuneCountInString(term)
		if diff > maxLengthDifference || diff < -maxLengthDifference {
			continue
		}
		if score := Similarity(lower, term); score > bestScore {
			best, bestScore = term, score
		}
	}
	return best, best != ""
}

// ValidateNumbers flags number-like substrings with suspicious grouping
func (c *Corrector) ValidateNumbers(text string) []NumberIssue {
	var issues []NumberIssue
	for _, loc := range numberPattern.FindAllStringIndex(text, -1) {
		value := strings.TrimSpace(text[loc[0]:loc[1]])
		pos := utf8.RuneCountInString(text[:loc[0]])

		if suspiciousComma(value) {
			issues = append(issues, NumberIssue{Value: value, Position: pos, Issue: "suspicious_comma_placement"})
		}
		if run := numericRun(text, loc[0]); strings.Count(run, ".") > 1 {
			issues = append(issues, NumberIssue{Value: run, Position: pos, Issue: "multiple_decimal_points"})
		}
	}
	return issues
}

// suspiciousComma reports a digit and comma followed by a run of only one
// or two digits, as in "1,50".
func suspiciousComma(value string) bool {
	for i := 0; i+1 < len(value); i++ {
		if !isASCIIDigit(value[i]) || value[i+1] != ',' {
			continue
		}
		n := 0
		for j := i + 2; j < len(value) && isASCIIDigit(value[j]); j++ {
			n++
		}
		if n == 1 || n == 2 {
			return true
		}
	}
	return false
}

// numericRun extends a match start over the digits, commas and dots that
// follow it, so "1.2.3" is seen whole.
func numericRun(text string, start int) string {
	i := start
	for i < len(text) && !isASCIIDigit(text[i]) && text[i] != ',' {
		i++
	}
	end := i
	for end < len(text) && (isASCIIDigit(text[end]) || text[end] == ',' || text[end] == '.') {
		end++
	}
	return strings.TrimRight(text[i:end], ".,")
}

func isASCIIDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func splitPunctuation(word string) (prefix, core, suffix string) {
	isWordRune := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(word, isWordRune)
	if start < 0 {
		return word, "", ""
	}
	end := strings.LastIndexFunc(word, isWordRune)
	_, size := utf8.DecodeRuneInString(word[end:])
	return word[:start], word[start : end+size], word[end+size:]
}

func looksNumeric(word string) bool {
	rest := numberLikeChars.ReplaceAllString(word, "")
	return float64(utf8.RuneCountInString(rest)) <= float64(utf8.RuneCountInString(word))*0.3
}

func repairDigits(word string) string {
	return strings.Map(func(r rune) rune {
		if d, ok := digitRepair[r]; ok {
			return d
		}
		return r
	}, word)
}

// mirrorCase applies the case pattern of original to replacement
func mirrorCase(original, replacement string) string {
	if isUpper(original) {
		return cases.Upper(language.Und).String(replacement)
	}
	if r, _ := utf8.DecodeRuneInString(original); unicode.IsUpper(r) {
		return cases.Title(language.Und).String(replacement)
	}
	return replacement
}

// isUpper is true when s has a cased letter and no lower-case letters
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func fixSpacing(text string) string {
	text = multiSpace.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "${1}")
	text = missingSpace.ReplaceAllString(text, "${1} ${2}")
	text = currencySpace.ReplaceAllString(text, "${1}")
	text = percentSpace.ReplaceAllString(text, "${1}%")
	return strings.TrimSpace(text)
}
