package client

import "strings"

var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.", "St.",
	"Prof.", "Gen.", "Col.", "Lt.", "Capt.", "Adm.",
	"Inc.", "Ltd.", "Co.", "vs.", "etc.", "approx.",
	"i.e.", "e.g.", "a.m.", "p.m.", "U.S.", "U.K.",
	"B.C.", "A.D.", "c.",
}

// SplitSentences breaks a reply into sentences so local speech can stop
// between them. Abbreviations, initials and decimals do not end a sentence.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !endsSentence(text, i) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func endsSentence(s string, i int) bool {
	switch s[i] {
	case '!', '?':
	case '.':
		if isAbbreviation(s, i) {
			return false
		}
	default:
		return false
	}
	// Followed by whitespace or the end of the text.
	if i+1 < len(s) {
		switch s[i+1] {
		case ' ', '\n', '\r', '\t':
		default:
			return false
		}
	}
	return true
}

func isAbbreviation(s string, i int) bool {
	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := s[start : i+1]
	for _, abbr := range abbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}
	// A lone capital is an initial: "J. R. R. Tolkien".
	return len(word) == 2 && word[0] >= 'A' && word[0] <= 'Z'
}
