package sources

import (
	"strings"
	"unicode"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "love": true, "awesome": true,
	"fantastic": true, "helpful": true, "works": true, "solved": true, "success": true,
	"amazing": true, "best": true, "perfect": true, "nice": true, "brilliant": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "hate": true, "broken": true,
	"error": true, "fail": true, "problem": true, "issue": true, "bug": true,
	"worst": true, "horrible": true, "poor": true, "sucks": true, "garbage": true,
	"useless": true,
}

// LexiconSentiment labels free text by counting positive and negative words.
// A tie, including no matches at all, is NEUTRAL.
func LexiconSentiment(text string) models.Sentiment {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var pos, neg int
	for _, w := range words {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}

	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}
