package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok := Generate()
		require.Len(t, tok, Length)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %s", tok)
		seen[tok] = struct{}{}

		norm, ok := Normalize(tok)
		require.True(t, ok, "generated token rejected: %s", tok)
		require.Equal(t, tok, norm)
	}
}

func TestNormalize(t *testing.T) {
	const canonical = "6f1c2a9e-3b4d-4e5f-8a7b-1c2d3e4f5a6b"

	tt := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "canonical", raw: canonical, want: canonical, ok: true},
		{name: "surrounding whitespace", raw: "  " + canonical + "\n", want: canonical, ok: true},
		{name: "upper case", raw: strings.ToUpper(canonical), want: canonical, ok: true},
		{name: "braced", raw: "{" + canonical + "}", want: canonical, ok: true},
		{name: "urn", raw: "urn:uuid:" + canonical, want: canonical, ok: true},
		{name: "bare hex", raw: strings.ReplaceAll(canonical, "-", ""), want: canonical, ok: true},
		{name: "empty", raw: "", ok: false},
		{name: "ean barcode", raw: "7501055300075", ok: false},
		{name: "url", raw: "https://example.com/qr/" + canonical + "/", ok: false},
		{name: "corrupted", raw: "6f1c2a9e-3b4d-4e5f-8a7b-1c2d3e4f5a6z", ok: false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
