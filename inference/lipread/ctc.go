package lipread

import (
	"math"
	"sort"
	"strings"
)

// BeamWidth is the default CTC beam width (25, matching the source).
const BeamWidth = 25

type beamState struct {
	text   string
	pBlank float64 // probability mass of paths ending in blank
	pNonBlank float64 // probability mass of paths ending in a non-blank symbol
}

func (b beamState) total() float64 { return b.pBlank + b.pNonBlank }

// DecodeCTCBeamSearch runs a standard CTC prefix beam search over
// per-timestep log-probabilities (§4.8's decode step). vocab maps
// class index to rune; index len(vocab) is the blank class. Repeated
// symbols across consecutive timesteps collapse into one unless
// separated by a blank, per the CTC collapsing rule.
func DecodeCTCBeamSearch(logProbs [][]float32, vocab []rune, beamWidth int) string {
	if beamWidth <= 0 {
		beamWidth = BeamWidth
	}
	if len(logProbs) == 0 {
		return ""
	}
	blankIdx := len(vocab)

	beams := map[string]*beamState{"": {text: "", pBlank: 1}}

	for t := range logProbs {
		probs := softmaxFromLogProbs(logProbs[t])
		next := make(map[string]*beamState)

		getOrInit := func(key string) *beamState {
			if s, ok := next[key]; ok {
				return s
			}
			s := &beamState{text: key}
			next[key] = s
			return s
		}

		ordered := topBeams(beams, beamWidth)
		for _, cur := range ordered {
			curTotal := cur.total()
			if curTotal <= 0 {
				continue
			}
			// Extend with blank: text unchanged, mass moves to pBlank.
			blankProb := probs[blankIdx]
			b := getOrInit(cur.text)
			b.pBlank += curTotal * float64(blankProb)

			lastRune := lastRuneOf(cur.text)
			for classIdx, r := range vocab {
				p := float64(probs[classIdx])
				if p <= 0 {
					continue
				}
				if r == lastRune {
					// Repeated symbol: a non-blank-ending path collapses the
					// repeat into the same text; only a blank-ending path
					// extends the text with a second copy of the symbol.
					same := getOrInit(cur.text)
					same.pNonBlank += cur.pNonBlank * p

					extended := getOrInit(cur.text + string(r))
					extended.pNonBlank += cur.pBlank * p
				} else {
					extended := getOrInit(cur.text + string(r))
					extended.pNonBlank += curTotal * p
				}
			}
		}
		beams = next
	}

	best := topBeams(beams, 1)
	if len(best) == 0 {
		return ""
	}
	return strings.TrimSpace(best[0].text)
}

func lastRuneOf(s string) rune {
	if s == "" {
		return 0
	}
	runes := []rune(s)
	return runes[len(runes)-1]
}

func topBeams(beams map[string]*beamState, n int) []*beamState {
	out := make([]*beamState, 0, len(beams))
	for _, b := range beams {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].total() > out[j].total() })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// softmaxFromLogProbs converts log-probabilities to probabilities
// with a max-shifted (numerically stable) softmax. For inputs that are
// already normalized log-probabilities the result equals their exp.
func softmaxFromLogProbs(logProbs []float32) []float32 {
	out := make([]float32, len(logProbs))
	var max float32
	for i, v := range logProbs {
		if i == 0 || v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range logProbs {
		e := math.Exp(float64(v - max))
		out[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
