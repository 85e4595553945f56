package escalation

import (
	"math"
	"strings"
)

// Lexicon-based sentiment scoring. Deliberately small: the score only gates
// escalation, it is not a general sentiment model. Scores are combined into a
// compound value normalised to [-1, 1].

var positiveWords = map[string]float64{
	"thanks": 1.5, "thank": 1.5, "great": 2.0, "good": 1.5, "perfect": 2.5,
	"awesome": 2.5, "excellent": 2.5, "helpful": 1.8, "happy": 1.8,
	"wonderful": 2.3, "appreciate": 1.8, "love": 2.0, "nice": 1.3,
	"fine": 0.8, "okay": 0.5, "resolved": 1.5, "solved": 1.5,
}

var negativeWords = map[string]float64{
	"angry": -2.2, "furious": -3.0, "terrible": -2.5, "awful": -2.5,
	"horrible": -2.7, "useless": -2.3, "ridiculous": -2.0, "unacceptable": -2.5,
	"frustrated": -2.0, "frustrating": -2.0, "annoyed": -1.8, "annoying": -1.8,
	"broken": -1.5, "wrong": -1.3, "bad": -1.5, "worst": -2.8, "hate": -2.5,
	"disappointed": -2.0, "disappointing": -2.0, "waste": -1.8, "scam": -2.8,
	"never": -0.8, "cancel": -1.0, "refund": -0.8, "complaint": -1.5,
	"problem": -1.0, "issue": -0.7, "fail": -1.8, "failed": -1.8,
}

var intensifiers = map[string]float64{
	"very": 1.3, "really": 1.3, "extremely": 1.6, "so": 1.2, "totally": 1.4,
	"absolutely": 1.5, "completely": 1.4,
}

var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "don't": {}, "doesn't": {}, "didn't": {},
	"won't": {}, "can't": {}, "isn't": {}, "wasn't": {},
}

// SentimentScore returns a compound sentiment for text in [-1, 1]; negative
// values indicate a dissatisfied caller. An empty or neutral text scores 0.
func SentimentScore(text string) float64 {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return 0
	}

	var sum float64
	for i, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:'\"")

		score, ok := positiveWords[tok]
		if !ok {
			score, ok = negativeWords[tok]
		}
		if !ok {
			continue
		}

		// Look back up to two tokens for intensifiers and negation.
		boost := 1.0
		negated := false
		for back := 1; back <= 2 && i-back >= 0; back++ {
			prev := strings.Trim(tokens[i-back], ".,!?;:'\"")
			if b, ok := intensifiers[prev]; ok {
				boost *= b
			}
			if _, ok := negations[prev]; ok {
				negated = true
			}
		}
		score *= boost
		if negated {
			score *= -0.74
		}
		sum += score
	}

	// Normalise to [-1, 1], saturating for strongly loaded text.
	return sum / math.Sqrt(sum*sum+15)
}

// ComplexityScore estimates how syntactically heavy text is, normalised to
// [0, 1]: average words per sentence against a 30-word ceiling.
func ComplexityScore(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	sentences := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}

	words := len(strings.Fields(text))
	avg := float64(words) / float64(sentences)

	score := avg / 30
	if score > 1 {
		score = 1
	}
	return score
}
