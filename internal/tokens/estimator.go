// Package tokens estimates token counts with tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

// DefaultEncoding is cl100k_base. It is not Gemini's tokenizer, but close
// enough to bill a call whose usage metadata went missing.
const DefaultEncoding = "cl100k_base"

// Estimator counts tokens with a tiktoken encoding. A zero Estimator falls
// back to a character estimate.
type Estimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

var shared = sync.OnceValue(func() *Estimator {
	e, err := New()
	if err != nil {
		L_warn("tokens: encoding unavailable, estimating from characters", "encoding", DefaultEncoding, "error", err)
		return &Estimator{}
	}
	return e
})

// Get returns the process-wide estimator, loading the encoding on first use.
func Get() *Estimator {
	return shared()
}

func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{enc: enc}, nil
}

// Count returns the token count of text, or roughly len/4 without an encoding.
func (e *Estimator) Count(text string) int {
	if e == nil || e.enc == nil {
		return (len(text) + 3) / 4
	}
	e.mu.Lock()
	n := len(e.enc.Encode(text, nil, nil))
	e.mu.Unlock()
	return n
}

func Estimate(text string) int {
	return Get().Count(text)
}
