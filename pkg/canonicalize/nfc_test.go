package canonicalize

import (
	"testing"
)

// precomposedE is "caf" followed by the single precomposed code point
// U+00E9 (LATIN SMALL LETTER E WITH ACUTE). decomposedE spells the same
// word with a bare "e" (U+0065) followed by the combining acute accent
// U+0301. The two are canonically equivalent under Unicode NFC but
// byte-distinct until normalized.
var (
	precomposedE = "caf" + "\u00e9"
	decomposedE  = "caf" + "e" + "\u0301"
)

func TestJCS_NormalizesStringValueToNFC(t *testing.T) {
	if precomposedE == decomposedE {
		t.Fatal("test fixtures must be byte-distinct before normalization")
	}

	precomposed, err := JCS(map[string]interface{}{"name": precomposedE})
	if err != nil {
		t.Fatalf("JCS(precomposed) failed: %v", err)
	}
	decomposed, err := JCS(map[string]interface{}{"name": decomposedE})
	if err != nil {
		t.Fatalf("JCS(decomposed) failed: %v", err)
	}

	if string(precomposed) != string(decomposed) {
		t.Errorf("expected NFC-equivalent strings to canonicalize identically, got %q vs %q",
			precomposed, decomposed)
	}
}

func TestJCS_NormalizesMapKeyToNFC(t *testing.T) {
	precomposed, err := JCS(map[string]interface{}{precomposedE: 1})
	if err != nil {
		t.Fatalf("JCS(precomposed key) failed: %v", err)
	}
	decomposed, err := JCS(map[string]interface{}{decomposedE: 1})
	if err != nil {
		t.Fatalf("JCS(decomposed key) failed: %v", err)
	}

	if string(precomposed) != string(decomposed) {
		t.Errorf("expected NFC-equivalent map keys to canonicalize identically, got %q vs %q",
			precomposed, decomposed)
	}
}

func TestCanonicalHash_NFCEquivalentInputsHashIdentically(t *testing.T) {
	h1, err := CanonicalHash(map[string]interface{}{"text": precomposedE})
	if err != nil {
		t.Fatalf("CanonicalHash(precomposed) failed: %v", err)
	}
	h2, err := CanonicalHash(map[string]interface{}{"text": decomposedE})
	if err != nil {
		t.Fatalf("CanonicalHash(decomposed) failed: %v", err)
	}

	if h1 != h2 {
		t.Errorf("expected identical hashes for NFC-equivalent evidence, got %s vs %s", h1, h2)
	}
}

func TestCanonicalize_StringNormalizesToNFCBeforeHashing(t *testing.T) {
	precomposed, err := Canonicalize("text-schema", precomposedE)
	if err != nil {
		t.Fatalf("Canonicalize(precomposed) failed: %v", err)
	}
	decomposed, err := Canonicalize("text-schema", decomposedE)
	if err != nil {
		t.Fatalf("Canonicalize(decomposed) failed: %v", err)
	}

	if precomposed.Digest != decomposed.Digest {
		t.Errorf("expected identical digests for NFC-equivalent strings, got %s vs %s",
			precomposed.Digest, decomposed.Digest)
	}
	if string(precomposed.CanonicalBytes) != string(decomposed.CanonicalBytes) {
		t.Errorf("expected identical canonical bytes, got %q vs %q",
			precomposed.CanonicalBytes, decomposed.CanonicalBytes)
	}
}
