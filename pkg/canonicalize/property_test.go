//go:build property
// +build property

package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/afu9/control-center/pkg/canonicalize"
)

// Property: CanonicalHash(obj) == CanonicalHash(obj) for any obj —
// hashing the same value twice must never disagree with itself,
// regardless of map key iteration order.
func TestCanonicalHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical hash is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			if len(obj) == 0 {
				return true
			}

			h1, err1 := canonicalize.CanonicalHash(obj)
			h2, err2 := canonicalize.CanonicalHash(obj)
			if err1 != nil && err2 != nil {
				return true
			}
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// Property: two maps holding the same key/value pairs, built in
// opposite insertion order, hash identically.
func TestJCSKeyOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("key insertion order never changes the hash", prop.ForAll(
		func(a, b string, va, vb int) bool {
			if a == "" || b == "" || a == b {
				return true
			}
			forward := map[string]any{a: va, b: vb}
			reverse := map[string]any{b: vb, a: va}

			h1, err1 := canonicalize.CanonicalHash(forward)
			h2, err2 := canonicalize.CanonicalHash(reverse)
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.AlphaString(), gen.AlphaString(), gen.Int(), gen.Int(),
	))

	properties.TestingRun(t)
}
