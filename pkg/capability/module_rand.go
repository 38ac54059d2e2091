package capability

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// one generator for the whole process, guarded; sessions share it the same
// way they share every other loaded capability
var (
	randMu  sync.Mutex
	randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// newRandomModule builds the "random" capability
func newRandomModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "random",
		Members: starlark.StringDict{
			"seed":    starlark.NewBuiltin("random.seed", randSeed),
			"random":  starlark.NewBuiltin("random.random", randFloat),
			"randint": starlark.NewBuiltin("random.randint", randInt),
			"uniform": starlark.NewBuiltin("random.uniform", randUniform),
			"choice":  starlark.NewBuiltin("random.choice", randChoice),
			"shuffle": starlark.NewBuiltin("random.shuffle", randShuffle),
		},
	}, nil
}

func randSeed(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seed int64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seed", &seed); err != nil {
		return nil, err
	}
	randMu.Lock()
	randSrc = rand.New(rand.NewSource(seed))
	randMu.Unlock()
	return starlark.None, nil
}

func randFloat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	randMu.Lock()
	defer randMu.Unlock()
	return starlark.Float(randSrc.Float64()), nil
}

func randInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lo, hi int64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &lo, "b", &hi); err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, fmt.Errorf("randint: empty range [%d, %d]", lo, hi)
	}
	randMu.Lock()
	defer randMu.Unlock()
	return starlark.MakeInt64(lo + randSrc.Int63n(hi-lo+1)), nil
}

func randUniform(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lo, hi float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &lo, "b", &hi); err != nil {
		return nil, err
	}
	randMu.Lock()
	defer randMu.Unlock()
	return starlark.Float(lo + randSrc.Float64()*(hi-lo)), nil
}

func randChoice(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq starlark.Indexable
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seq", &seq); err != nil {
		return nil, err
	}
	n := seq.Len()
	if n == 0 {
		return nil, fmt.Errorf("choice: empty sequence")
	}
	randMu.Lock()
	i := randSrc.Intn(n)
	randMu.Unlock()
	return seq.Index(i), nil
}

func randShuffle(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq starlark.Indexable
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "seq", &seq); err != nil {
		return nil, err
	}

	elems := make([]starlark.Value, seq.Len())
	for i := range elems {
		elems[i] = seq.Index(i)
	}
	randMu.Lock()
	randSrc.Shuffle(len(elems), func(i, j int) {
		elems[i], elems[j] = elems[j], elems[i]
	})
	randMu.Unlock()
	return starlark.NewList(elems), nil
}
