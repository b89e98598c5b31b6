package game

import (
	"math/rand"
	"sync"

	"mathduel/pkg/types"
)

// DefaultMaxRetries bounds the rejection-sampling loop. The valid
// operand space is large relative to the rejected space, so this is
// effectively never reached with the stock 1-9 / [1,81] ranges.
const DefaultMaxRetries = 32

// fallbackChallenge is the safe default used when sampling is
// exhausted. An equation must always be displayable.
var fallbackChallenge = types.Challenge{Left: 9, Op: types.OpMultiply, Right: "?", Result: 81}

var operators = []string{types.OpMultiply, types.OpAdd, types.OpSubtract}

// Outcome tags a generated challenge so callers can observe whether
// sampling succeeded or the generator failed closed.
type Outcome struct {
	Challenge types.Challenge
	Fallback  bool
}

// Generator produces arithmetic challenges: operator uniform over
// {x,+,-}, operands 1-9, result constrained to [1,81]. Subtraction
// operands are swapped so the result is never negative.
type Generator struct {
	mu         sync.Mutex
	rand       *rand.Rand
	maxRetries int
	minResult  int
	maxResult  int
}

// NewGenerator creates a generator seeded for reproducible draws in
// tests; production callers seed with the current time.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rand:       rand.New(rand.NewSource(seed)),
		maxRetries: DefaultMaxRetries,
		minResult:  1,
		maxResult:  81,
	}
}

// Next draws the next challenge, resampling out-of-range results up to
// the retry bound and failing closed to the fallback beyond it.
func (g *Generator) Next() Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < g.maxRetries; i++ {
		op := operators[g.rand.Intn(len(operators))]
		left := g.rand.Intn(9) + 1
		right := g.rand.Intn(9) + 1

		var result int
		switch op {
		case types.OpMultiply:
			result = left * right
		case types.OpAdd:
			result = left + right
		case types.OpSubtract:
			if left < right {
				left, right = right, left
			}
			result = left - right
		}

		if result < g.minResult || result > g.maxResult {
			continue
		}
		return Outcome{Challenge: types.Challenge{Left: left, Op: op, Right: "?", Result: result}}
	}

	return Outcome{Challenge: fallbackChallenge, Fallback: true}
}
