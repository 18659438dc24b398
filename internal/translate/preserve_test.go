package translate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreserveAndRestore(t *testing.T) {
	msg := "hey @alice check https://example.com/x?y=1 and mail bob@example.com !help Kappa"
	preserved, tm := Preserve(msg, []string{"Kappa"})

	assert.NotContains(t, preserved, "@alice")
	assert.NotContains(t, preserved, "https://example.com")
	assert.NotContains(t, preserved, "bob@example.com")
	assert.NotContains(t, preserved, "!help")
	assert.NotContains(t, preserved, "Kappa")
	require.Len(t, tm.Tokens, 5)

	// Round trip restores the original byte-for-byte.
	assert.Equal(t, msg, tm.Restore(preserved))
}

func TestPreserveTokenTypes(t *testing.T) {
	msg := "@mod !ban https://a.io x@y.co PogChamp"
	_, tm := Preserve(msg, []string{"PogChamp"})

	types := map[TokenType]string{}
	for _, tok := range tm.Tokens {
		types[tok.Type] = tok.Original
	}
	assert.Equal(t, "@mod", types[TokenMention])
	assert.Equal(t, "!ban", types[TokenCommand])
	assert.Equal(t, "https://a.io", types[TokenURL])
	assert.Equal(t, "x@y.co", types[TokenEmail])
	assert.Equal(t, "PogChamp", types[TokenEmote])
}

func TestPreserveTokenOrder(t *testing.T) {
	msg := "one @a two @b three @c"
	preserved, tm := Preserve(msg, nil)
	require.Len(t, tm.Tokens, 3)

	// Placeholders appear in input token order.
	last := -1
	for _, tok := range tm.Tokens {
		at := strings.Index(preserved, tok.Placeholder)
		require.Greater(t, at, last)
		last = at
	}
	assert.Equal(t, msg, tm.Restore(preserved))
}

func TestPreserveOverlappingSpans(t *testing.T) {
	// The mention inside the URL must not be double-preserved.
	msg := "see https://example.com/@alice now"
	preserved, tm := Preserve(msg, nil)
	require.Len(t, tm.Tokens, 1)
	assert.Equal(t, TokenURL, tm.Tokens[0].Type)
	assert.Equal(t, msg, tm.Restore(preserved))
}

func TestPreserveNoTokens(t *testing.T) {
	msg := "hola como estas"
	preserved, tm := Preserve(msg, nil)
	assert.Equal(t, msg, preserved)
	assert.Empty(t, tm.Tokens)
	assert.Equal(t, msg, Stripped(preserved, tm))
}

func TestStripped(t *testing.T) {
	preserved, tm := Preserve("!help @bob", nil)
	assert.Equal(t, "", Stripped(preserved, tm))
}
