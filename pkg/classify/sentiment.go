package classify

import "strings"

// Sentiment is the keyword-derived tone of an ad/post comment.
type Sentiment struct {
	Label             string  `json:"label"`
	Score             float64 `json:"score"`
	IsQuestion        bool    `json:"is_question"`
	ContainsComplaint bool    `json:"contains_complaint"`
}

const (
	SentimentNegative = "negative"
	SentimentQuestion = "question"
	SentimentPositive = "positive"
)

var negativeKeywords = []string{
	"schlecht", "enttäuscht", "schrecklich", "betrug", "fake",
	"abzocke", "nie wieder", "warnung", "finger weg", "miserabel",
	"scam", "terrible", "awful", "worst", "hate",
}

var questionKeywords = []string{
	"?", "wann", "wie", "verfügbar", "größe", "preis",
	"kostet", "lieferung", "farbe", "where", "when", "how",
}

// AnalyzeSentiment scans comment text for known negative and question
// keywords. Negative wins over question; anything else counts as
// positive. Pure, like Classify.
func AnalyzeSentiment(text string) Sentiment {
	lower := strings.ToLower(text)

	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			return Sentiment{Label: SentimentNegative, Score: 0.8, ContainsComplaint: true}
		}
	}
	for _, kw := range questionKeywords {
		if strings.Contains(lower, kw) {
			return Sentiment{Label: SentimentQuestion, Score: 0.7, IsQuestion: true}
		}
	}
	return Sentiment{Label: SentimentPositive, Score: 0.6}
}
