package loader

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrBadIteration = errors.New("bad iteration: needs to be an integer or 'last'")

// Iteration selects which numbered save to load.
type Iteration struct {
	Last bool
	N    int
}

func Last() Iteration    { return Iteration{Last: true} }
func At(n int) Iteration { return Iteration{N: n} }

func (it Iteration) String() string {
	if it.Last {
		return "last"
	}
	return strconv.Itoa(it.N)
}

// ParseIteration accepts "last" or a non-negative integer. A negative
// integer means "last", matching the CLI default of -1.
func ParseIteration(s string) (Iteration, error) {
	if s == "last" || s == "" {
		return Last(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Iteration{}, fmt.Errorf("%w: %q", ErrBadIteration, s)
	}
	if n < 0 {
		return Last(), nil
	}
	return At(n), nil
}

// resolve turns it into the suffix used in save names. "last" picks the
// largest saved number, or the unnumbered save when there is none.
func resolve(it Iteration, saves []int) string {
	if !it.Last {
		return strconv.Itoa(it.N)
	}
	if len(saves) == 0 {
		return ""
	}
	best := saves[0]
	for _, s := range saves[1:] {
		if s > best {
			best = s
		}
	}
	return strconv.Itoa(best)
}
