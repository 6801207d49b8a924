package matcher

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/width"
)

// Corporate markers stripped before comparison. Covers the kanji
// company suffixes, their parenthesised abbreviations, and the common
// Latin equivalents banks tack onto remitter names.
var corporateMarkers = []string{
	"株式会社", "有限会社", "合同会社", "合資会社", "合名会社",
	"(株)", "(有)", "(同)",
	"カ)", "ユ)", "カブシキガイシャ", "ユウゲンガイシャ",
	"CO.,LTD.", "CO.,LTD", "CO., LTD.", "CO., LTD",
	"CORPORATION", "INCORPORATED", "COMPANY",
	"CORP.", "CORP", "INC.", "INC", "LTD.", "LTD", "LLC", "K.K.", "KK",
}

// NormalizeName canonicalizes a counterparty or customer name for
// comparison: fullwidth characters are narrowed, the name is
// uppercased, corporate markers are stripped, and all whitespace and
// punctuation separators are removed.
func NormalizeName(name string) string {
	s := width.Narrow.String(name)
	s = strings.ToUpper(s)
	for _, marker := range corporateMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '　', '.', ',', '・', '-', '−', 'ー':
			return -1
		}
		return r
	}, s)
	return s
}

// SimilarityRatio returns the Levenshtein similarity of two already
// normalized names, as 1 - distance/maxLen in [0, 1].
func SimilarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	aRunes := len([]rune(a))
	bRunes := len([]rune(b))
	maxLen := aRunes
	if bRunes > maxLen {
		maxLen = bRunes
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(maxLen)
}

// namesMatch reports whether two raw names are a strong match under
// the configured threshold. Either name containing the other counts;
// otherwise the similarity ratio decides.
func (m *Matcher) namesMatch(a, b string) bool {
	na := NormalizeName(a)
	nb := NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return SimilarityRatio(na, nb) >= m.config.NameSimilarityThreshold
}
