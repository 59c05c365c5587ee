package prompt

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens with the cl100k_base encoding. Counts are
// advisory: the target model may tokenize differently.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
}

func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) Count(text string) int {
	e.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			e.codec = codec
		}
	})
	if e.codec != nil {
		if ids, _, err := e.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}
