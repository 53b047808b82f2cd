package scoring

import (
	"context"
	"math"
	"regexp"
)

// SentimentSource supplies the affect magnitude of a snippet, in [0,1].
// Implementations may call out to an external model.
type SentimentSource interface {
	Sentiment(ctx context.Context, text string) (float64, error)
}

// LexiconSentiment scores affect from positive and negative word lists.
// Positive and negative emotion are both clippable, so polarity is taken as a magnitude.
type LexiconSentiment struct {
	positive []*regexp.Regexp
	negative []*regexp.Regexp
}

// NewLexiconSentiment builds a lexicon source; nil lists use the built-in defaults.
func NewLexiconSentiment(positive, negative []string) (*LexiconSentiment, error) {
	if positive == nil {
		positive = []string{`\b(awesome|amazing|win|victory|clutch|perfect)\b`}
	}
	if negative == nil {
		negative = []string{`\b(fail|lost|lose|trash|rage|mad|angry)\b`}
	}
	pos, err := compileAll(positive)
	if err != nil {
		return nil, err
	}
	neg, err := compileAll(negative)
	if err != nil {
		return nil, err
	}
	return &LexiconSentiment{positive: pos, negative: neg}, nil
}

// Sentiment never fails; the context is accepted to satisfy SentimentSource.
func (l *LexiconSentiment) Sentiment(_ context.Context, text string) (float64, error) {
	pos, neg := 0, 0
	for _, re := range l.positive {
		pos += len(re.FindAllStringIndex(text, -1))
	}
	for _, re := range l.negative {
		neg += len(re.FindAllStringIndex(text, -1))
	}
	raw := math.Abs(float64(pos-neg)) + float64(pos+neg)*0.3
	return math.Min(raw, 3) / 3, nil
}
