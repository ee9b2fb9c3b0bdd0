package planner

import (
	"strings"
	"unicode"
)

// Slugify приводит заголовок к виду для сравнения дубликатов:
// нижний регистр, буквы и цифры, остальное схлопывается в один дефис.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func tokens(parts ...string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range parts {
		for _, tok := range strings.Split(Slugify(part), "-") {
			if len([]rune(tok)) >= 3 {
				set[tok] = true
			}
		}
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for tok := range a {
		if b[tok] {
			n++
		}
	}
	return n
}
