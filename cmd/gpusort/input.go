package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/gogpu/gpusort/internal/config"
)

// parseValues reads int32 values separated by whitespace or commas.
func parseValues(r io.Reader) ([]int32, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	var out []int32
	for sc.Scan() {
		for _, field := range strings.Split(sc.Text(), ",") {
			if field == "" {
				continue
			}
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", len(out)+1, err)
			}
			out = append(out, int32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// randomValues generates r.Count values in [r.Min, r.Max].
func randomValues(r config.Random) []int32 {
	seed := r.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed>>32))

	span := int64(r.Max) - int64(r.Min) + 1
	out := make([]int32, r.Count)
	for i := range out {
		out[i] = int32(int64(r.Min) + rng.Int64N(span)) //nolint:gosec // within [Min, Max]
	}
	return out
}
