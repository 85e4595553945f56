package retrieval

import (
	"regexp"
	"strings"
)

// Voice output budget: a spoken answer that runs longer than this stops
// being an answer.
const (
	voiceMaxDocs      = 2
	voiceMaxSentences = 3
	voiceMaxChars     = 500
)

// abbreviations is the fixed TTS expansion table. Keys are matched as whole
// words, case-sensitively for the all-caps entries.
var abbreviations = []struct{ from, to string }{
	{"e.g.", "for example"},
	{"i.e.", "that is"},
	{"etc.", "and so on"},
	{"vs.", "versus"},
	{"API", "A P I"},
	{"URL", "U R L"},
	{"FAQ", "F A Q"},
	{"ID", "I D"},
	{"2FA", "two-factor authentication"},
	{"SKU", "S K U"},
}

var (
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdLink    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmph    = regexp.MustCompile("[*_`]+")
	mdBullet  = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	wsRun     = regexp.MustCompile(`\s+`)
)

// flattenMarkdown strips structural markdown so the text reads as plain
// prose.
func flattenMarkdown(s string) string {
	s = mdHeading.ReplaceAllString(s, "")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdEmph.ReplaceAllString(s, "")
	return strings.TrimSpace(wsRun.ReplaceAllString(s, " "))
}

// expandAbbreviations applies the TTS table on word boundaries.
func expandAbbreviations(s string) string {
	for _, ab := range abbreviations {
		re := regexp.MustCompile(`(^|[\s(])` + regexp.QuoteMeta(ab.from) + `($|[\s).,;:!?])`)
		s = re.ReplaceAllString(s, "${1}"+ab.to+"${2}")
	}
	return s
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// firstSentences returns at most n sentences of s.
func firstSentences(s string, n int) string {
	if n <= 0 {
		return ""
	}
	marked := sentenceEnd.ReplaceAllString(s, "$1\x00")
	parts := strings.Split(marked, "\x00")
	if len(parts) <= n {
		return s
	}
	return strings.TrimSpace(strings.Join(parts[:n], " "))
}

// sentenceBudget is the per-document sentence allowance for an intent.
// Yes/no and definition questions get a tighter answer; everything else
// keeps the full budget.
func sentenceBudget(intent Intent) int {
	switch intent {
	case IntentYesNo, IntentDefinition:
		return 2
	default:
		return voiceMaxSentences
	}
}

// FormatForVoice compresses results into utterances a caller can absorb: at
// most two documents, three sentences each, 500 characters overall. Each
// returned result carries the spoken text in Content.
func FormatForVoice(results []Result) []Result {
	return formatForVoice(results, voiceMaxSentences)
}

// FormatForVoiceIntent is FormatForVoice with the sentence budget adjusted
// for the question type.
func FormatForVoiceIntent(results []Result, intent Intent) []Result {
	return formatForVoice(results, sentenceBudget(intent))
}

func formatForVoice(results []Result, sentences int) []Result {
	var out []Result
	total := 0
	for _, r := range results {
		if len(out) >= voiceMaxDocs {
			break
		}
		text := firstSentences(expandAbbreviations(flattenMarkdown(r.Content)), sentences)
		if text == "" {
			continue
		}
		if remaining := voiceMaxChars - total; len(text) > remaining {
			if remaining <= 0 {
				break
			}
			text = strings.TrimSpace(text[:remaining])
		}
		r.Content = text
		out = append(out, r)
		total += len(text)
	}
	return out
}
