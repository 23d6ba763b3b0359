package speech

import "strings"

// SplitForVoice breaks text into sentences when it has more than maxWords
// words. Sentence terminators stay with their sentence. maxWords <= 0 means
// no limit.
func SplitForVoice(text string, maxWords int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxWords <= 0 || len(strings.Fields(text)) <= maxWords {
		return []string{text}
	}
	var (
		parts []string
		start int
	)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				parts = append(parts, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		parts = append(parts, s)
	}
	return parts
}
