package publisher

import "strings"

// telegramLimit задаёт максимальную длину сообщения Telegram в рунах.
const telegramLimit = 4096

// splitText делит текст на части не длиннее limit рун.
// Разрез ищется сначала на границе абзаца, затем строки, затем пробела.
func splitText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 {
		limit = telegramLimit
	}
	runes := []rune(trimmed)
	var parts []string
	for len(runes) > limit {
		cut := cutPoint(runes[:limit+1])
		if cut <= 0 {
			cut = limit
		}
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			parts = append(parts, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " \n"))
	}
	if chunk := strings.TrimSpace(string(runes)); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}

// cutPoint возвращает позицию разреза внутри window или -1.
// Границы абзаца и строки берутся, только если часть выходит не короче половины окна.
func cutPoint(window []rune) int {
	s := string(window)
	half := len(window) / 2
	for _, sep := range []string{"\n\n", "\n"} {
		if i := strings.LastIndex(s, sep); i > 0 {
			if cut := len([]rune(s[:i])); cut >= half {
				return cut
			}
		}
	}
	if i := strings.LastIndex(s, " "); i > 0 {
		return len([]rune(s[:i]))
	}
	return -1
}
