package admintoken

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Params controls Argon2id cost. MemoryKiB is in KiB as required by argon2.IDKey.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config bundles hashing cost and token length bounds.
type Config struct {
	Params    Params
	MinLength int
	MaxLength int
}

// DefaultConfig returns a baseline sized for a handful of admin requests per minute.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Params{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 16,
		MaxLength: 512,
	}
}

// FromEnv overrides the defaults from BOUNCER_ARGON2_MEMORY_KIB, BOUNCER_ARGON2_ITERATIONS
// and BOUNCER_ARGON2_PARALLELISM.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("BOUNCER_ARGON2_MEMORY_KIB"); ok {
		u, err := parseU32(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("BOUNCER_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}
	if v, ok := os.LookupEnv("BOUNCER_ARGON2_ITERATIONS"); ok {
		u, err := parseU32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("BOUNCER_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}
	if v, ok := os.LookupEnv("BOUNCER_ARGON2_PARALLELISM"); ok {
		u, err := parseU32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("BOUNCER_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded by parseU32.
	}
	return cfg, nil
}

func parseU32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
