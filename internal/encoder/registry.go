package encoder

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Names lists the encoders accepted by ByName.
var Names = []string{"dense", "topk", "randomk", "ternary", "half"}

// ByName builds an encoder from its configuration name. k is used by the
// sparse encoders; seed drives the randomized ones.
func ByName(name string, k int, seed uint64) (Encoder, error) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	switch name {
	case "dense":
		return DenseEncoder{}, nil
	case "topk":
		if k <= 0 {
			return nil, errors.Errorf("encoder %q needs k > 0, got %d", name, k)
		}
		return TopK{K: k}, nil
	case "randomk":
		if k <= 0 {
			return nil, errors.Errorf("encoder %q needs k > 0, got %d", name, k)
		}
		return RandomK{K: k, Rand: rng}, nil
	case "ternary":
		return TernaryEncoder{Rand: rng}, nil
	case "half":
		return HalfEncoder{}, nil
	}
	return nil, errors.Errorf("unknown encoder %q, valid values are %q", name, Names)
}
