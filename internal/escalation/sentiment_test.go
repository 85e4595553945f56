package escalation

import "testing"

func TestSentimentScoreBounds(t *testing.T) {
	t.Parallel()

	texts := []string{
		"",
		"this is absolutely terrible and I hate it, worst service ever, totally useless",
		"thank you so much, this was excellent, really great and helpful",
		"the quick brown fox jumps over the lazy dog",
	}
	for _, text := range texts {
		score := SentimentScore(text)
		if score < -1 || score > 1 {
			t.Errorf("SentimentScore(%q) = %v, out of [-1,1]", text, score)
		}
	}
}

func TestSentimentScoreDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		negative bool
	}{
		{"this is terrible and useless, I am furious", true},
		{"I am really frustrated, this is unacceptable", true},
		{"thanks, that was great and very helpful", false},
		{"perfect, I appreciate it", false},
	}
	for _, tt := range tests {
		score := SentimentScore(tt.text)
		if tt.negative && score >= 0 {
			t.Errorf("SentimentScore(%q) = %v, want negative", tt.text, score)
		}
		if !tt.negative && score <= 0 {
			t.Errorf("SentimentScore(%q) = %v, want positive", tt.text, score)
		}
	}
}

func TestSentimentNeutralTextNearZero(t *testing.T) {
	t.Parallel()

	score := SentimentScore("I would like to check my order from last week")
	if score < -0.3 || score > 0.3 {
		t.Errorf("neutral text scored %v", score)
	}
}

func TestSentimentNegationFlips(t *testing.T) {
	t.Parallel()

	plain := SentimentScore("this is good")
	negated := SentimentScore("this is not good")
	if plain <= 0 {
		t.Fatalf("baseline score %v not positive", plain)
	}
	if negated >= plain {
		t.Errorf("negated score %v not below baseline %v", negated, plain)
	}
}

func TestComplexityScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		low  float64
		high float64
	}{
		{"empty", "", 0, 0},
		{"short sentence", "Where is my order?", 0, 0.3},
		{"two short sentences", "Hello. I need help.", 0, 0.2},
		{"one long rambling sentence", "I bought the device last month and then the firmware update broke the pairing and now the app will not even find it although the light is blinking and I already reinstalled everything twice on two different phones", 0.9, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ComplexityScore(tt.text)
			if got < tt.low || got > tt.high {
				t.Errorf("ComplexityScore = %v, want in [%v, %v]", got, tt.low, tt.high)
			}
		})
	}
}

func TestCheckTriggers(t *testing.T) {
	t.Parallel()

	cfg := Config{Keywords: []string{"manager", "supervisor"}}

	tests := []struct {
		name  string
		text  string
		fired bool
		typ   string
	}{
		{"keyword hit", "I want to speak to a manager", true, "keyword"},
		{"keyword case-insensitive", "get me your MANAGER now", true, "keyword"},
		{"sentiment hit", "this is absolutely terrible, totally useless, I hate it and it is the worst", true, "sentiment"},
		{"no trigger", "can you check my order status please?", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			trig, fired := CheckTriggers(tt.text, cfg)
			if fired != tt.fired {
				t.Fatalf("fired = %v, want %v (trigger %+v)", fired, tt.fired, trig)
			}
			if fired && string(trig.Type) != tt.typ {
				t.Errorf("trigger type = %s, want %s", trig.Type, tt.typ)
			}
		})
	}
}

func TestCheckTriggersComplexity(t *testing.T) {
	t.Parallel()

	cfg := Config{ComplexityThreshold: 0.8}
	long := "I bought the device last month and then the firmware update broke the pairing and now the app will not even find it although the light is blinking and I already reinstalled everything twice on two different phones"
	trig, fired := CheckTriggers(long, cfg)
	if !fired || trig.Type != "complexity" {
		t.Errorf("trigger = %+v fired=%v", trig, fired)
	}
}
