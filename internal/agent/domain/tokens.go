package domain

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator counts tokens with the cl100k_base encoding, falling back
// to a bytes/4 heuristic when the encoding cannot be loaded (offline runs).
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenEstimator returns a lazy estimator; the encoding loads on first use.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// Estimate returns the approximate token count of text.
func (t *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
