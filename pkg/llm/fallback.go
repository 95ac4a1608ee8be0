package llm

import (
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultFallbackUtterances are spoken when no reply could be generated.
var DefaultFallbackUtterances = []string{
	"Promiňte, došlo k technické chybě.",
	"Omlouvám se, teď jsem vám nerozuměla. Můžete to prosím zopakovat?",
	"Promiňte, chvilku mi to trvá. Zkuste to prosím znovu.",
}

// FallbackUtterances picks a canned reply at random from a configured list.
type FallbackUtterances struct {
	mu    sync.Mutex
	texts []string
	rnd   *rand.Rand
}

// NewFallbackUtterances copies texts, skipping empty entries. An empty list
// falls back to DefaultFallbackUtterances. A zero seed is time based.
func NewFallbackUtterances(texts []string, seed int64) *FallbackUtterances {
	kept := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, DefaultFallbackUtterances...)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FallbackUtterances{texts: kept, rnd: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1))}
}

func (f *FallbackUtterances) Pick() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[f.rnd.IntN(len(f.texts))]
}

// Texts returns the configured list.
func (f *FallbackUtterances) Texts() []string {
	return append([]string(nil), f.texts...)
}
