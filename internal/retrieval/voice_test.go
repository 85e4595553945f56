package retrieval

import (
	"strings"
	"testing"
)

func TestFlattenMarkdown(t *testing.T) {
	t.Parallel()

	in := "# Rotating keys\n\nGo to **Settings** and click [Regenerate](https://example.com/docs).\n- old keys expire\n- new key shows `once`"
	got := flattenMarkdown(in)

	for _, bad := range []string{"#", "**", "`", "](", "https://"} {
		if strings.Contains(got, bad) {
			t.Errorf("markdown artefact %q in %q", bad, got)
		}
	}
	if !strings.Contains(got, "Regenerate") {
		t.Errorf("link text lost: %q", got)
	}
}

func TestExpandAbbreviations(t *testing.T) {
	t.Parallel()

	got := expandAbbreviations("Use the API to rotate keys, e.g. once a month.")
	if strings.Contains(got, "API") {
		t.Errorf("API not expanded: %q", got)
	}
	if !strings.Contains(got, "for example") {
		t.Errorf("e.g. not expanded: %q", got)
	}
}

func TestFirstSentences(t *testing.T) {
	t.Parallel()

	in := "One. Two! Three? Four. Five."
	got := firstSentences(in, 3)
	if strings.Contains(got, "Four") {
		t.Errorf("sentence limit not applied: %q", got)
	}
	if !strings.Contains(got, "Three?") {
		t.Errorf("third sentence dropped: %q", got)
	}
}

func TestFormatForVoiceBudgets(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("This sentence repeats to fill the budget with text. ", 20)
	results := []Result{
		{Document: Document{ID: "a", Content: long}, Score: 1},
		{Document: Document{ID: "b", Content: long}, Score: 0.8},
		{Document: Document{ID: "c", Content: long}, Score: 0.5},
	}

	out := FormatForVoice(results)
	if len(out) > voiceMaxDocs {
		t.Fatalf("%d docs, max %d", len(out), voiceMaxDocs)
	}
	total := 0
	for _, r := range out {
		total += len(r.Content)
	}
	if total > voiceMaxChars {
		t.Errorf("total %d chars, max %d", total, voiceMaxChars)
	}
	if out[0].ID != "a" {
		t.Errorf("order not preserved: %v", out[0].ID)
	}
}

func TestFormatForVoiceIntentTightensBudget(t *testing.T) {
	t.Parallel()

	results := []Result{
		{Document: Document{ID: "a", Content: "First. Second. Third. Fourth."}, Score: 1},
	}

	// A yes/no question is answered in two sentences, not three.
	out := FormatForVoiceIntent(results, IntentYesNo)
	if len(out) != 1 {
		t.Fatalf("%d docs", len(out))
	}
	if strings.Contains(out[0].Content, "Third") {
		t.Errorf("yes/no budget not applied: %q", out[0].Content)
	}

	out = FormatForVoiceIntent(results, IntentProcedural)
	if !strings.Contains(out[0].Content, "Third") {
		t.Errorf("procedural budget truncated early: %q", out[0].Content)
	}
}

func TestFormatForVoiceSkipsEmpty(t *testing.T) {
	t.Parallel()

	results := []Result{
		{Document: Document{ID: "empty", Content: "   "}},
		{Document: Document{ID: "real", Content: "A useful answer."}, Score: 1},
	}
	out := FormatForVoice(results)
	if len(out) != 1 || out[0].ID != "real" {
		t.Errorf("out = %+v", out)
	}
}
