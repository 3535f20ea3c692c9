package ocr

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	maxNumberForWords  = 999999
)

const (
	urlRegexPattern        = `(?i)\b(?:https?://|www\.)\S+`
	domainRegexPattern     = `(?i)\b[a-z0-9-]+(?:\.[a-z0-9-]+)*\.(?:com|net|org|io|co|me|gg|tv|ly)(?:/\S*)?\b`
	handleRegexPattern     = `(?:^|\s)(?:@|u/|r/)\w+`
	numberRegexPattern     = `\d+`
	whitespaceRegexPattern = `\s+`
)

const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// allowedPunctuation is kept verbatim; every other symbol is OCR noise.
const allowedPunctuation = `.,!?'"-:;()&%$`

// Normalizer turns raw OCR output into text a speech engine can read aloud.
type Normalizer struct {
	urlPattern           *regexp.Regexp
	domainPattern        *regexp.Regexp
	handlePattern        *regexp.Regexp
	numberPattern        *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	abbreviations        []abbreviation
	quoteReplacer        *strings.Replacer
}

// abbreviation expands a whole-word abbreviation. Matches start on a word
// boundary so "DMs." or "how/why" are left alone.
type abbreviation struct {
	pattern     *regexp.Regexp
	replacement string
}

// NewNormalizer compiles the cleanup patterns.
func NewNormalizer() *Normalizer {
	abbreviations := []abbreviation{
		{regexp.MustCompile(`\bMr\.`), "Mister"},
		{regexp.MustCompile(`\bMrs\.`), "Misses"},
		{regexp.MustCompile(`\bMs\.`), "Miss"},
		{regexp.MustCompile(`\bDr\.`), "Doctor"},
		{regexp.MustCompile(`\bSt\.`), "Saint"},
		{regexp.MustCompile(`(?i)\bvs\.`), "versus"},
		{regexp.MustCompile(`(?i)\bw/\s*`), "with "},
	}

	return &Normalizer{
		urlPattern:           regexp.MustCompile(urlRegexPattern),
		domainPattern:        regexp.MustCompile(domainRegexPattern),
		handlePattern:        regexp.MustCompile(handleRegexPattern),
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		abbreviations:        abbreviations,
		quoteReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize cleans text. Input without any letters or digits normalizes to "".
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	cleaned := n.quoteReplacer.Replace(text)
	cleaned = n.removeWatermarks(cleaned)
	cleaned = n.expandAbbreviations(cleaned)
	cleaned = n.removeJunk(cleaned)

	if !hasReadableContent(cleaned) {
		return ""
	}

	cleaned = n.normalizeNumbers(cleaned)
	cleaned = n.whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = removeRepeatedPunctuation(strings.TrimSpace(cleaned))

	return ensureSentenceEnding(cleaned)
}

// removeWatermarks drops URLs, bare domains and user handles stamped on images.
func (n *Normalizer) removeWatermarks(text string) string {
	text = n.urlPattern.ReplaceAllString(text, " ")
	text = n.domainPattern.ReplaceAllString(text, " ")

	return n.handlePattern.ReplaceAllString(text, " ")
}

func (n *Normalizer) expandAbbreviations(text string) string {
	for _, abbr := range n.abbreviations {
		text = abbr.pattern.ReplaceAllString(text, abbr.replacement)
	}

	return text
}

func (n *Normalizer) removeJunk(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case unicode.IsSpace(r):
			return ' '
		case strings.ContainsRune(allowedPunctuation, r):
			return r
		default:
			return ' '
		}
	}, text)
}

func (n *Normalizer) normalizeNumbers(text string) string {
	return n.numberPattern.ReplaceAllStringFunc(text, func(s string) string {
		num, err := strconv.Atoi(s)
		if err != nil {
			return s
		}

		return integerToWords(num)
	})
}

func hasReadableContent(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

// removeRepeatedPunctuation keeps the first mark of each run, except that a
// three-dot ellipsis survives.
func removeRepeatedPunctuation(text string) string {
	text = strings.ReplaceAll(text, ellipsis, ellipsisChar)

	var (
		result       []rune
		lastWasPunct bool
	)

	for _, char := range text {
		isPunct := unicode.IsPunct(char)
		if !isPunct || !lastWasPunct {
			result = append(result, char)
		}

		lastWasPunct = isPunct
	}

	return strings.ReplaceAll(string(result), ellipsisChar, ellipsis)
}

func ensureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)
	switch lastChar {
	case '.', '!', '?':
		return trimmed
	default:
		return strings.TrimRight(trimmed, `,:;-`) + "."
	}
}

var (
	ones = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

func underHundred(num int) string {
	switch {
	case num < numberBaseTen:
		return ones[num]
	case num < numberBaseTwenty:
		return teens[num-numberBaseTen]
	case num%numberBaseTen == 0:
		return tens[num/numberBaseTen]
	default:
		return tens[num/numberBaseTen] + " " + ones[num%numberBaseTen]
	}
}

func underThousand(num int) string {
	var parts []string

	if hundreds := num / numberBaseHundred; hundreds > 0 {
		parts = append(parts, ones[hundreds]+" hundred")
	}

	if rest := num % numberBaseHundred; rest > 0 {
		parts = append(parts, underHundred(rest))
	}

	return strings.Join(parts, " ")
}

// integerToWords spells out 0..999999; anything else is returned as digits.
func integerToWords(number int) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if rest := number % numberBaseThousand; rest > 0 {
		parts = append(parts, underThousand(rest))
	}

	return strings.Join(parts, " ")
}
