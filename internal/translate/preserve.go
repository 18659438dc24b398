// Package translate detects message language and translates text while
// preserving non-linguistic tokens byte-for-byte.
package translate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TokenType classifies a preserved token.
type TokenType string

const (
	TokenMention   TokenType = "mention"
	TokenCommand   TokenType = "command"
	TokenEmail     TokenType = "email"
	TokenURL       TokenType = "url"
	TokenEmote     TokenType = "emote"
	TokenUncertain TokenType = "uncertain"
)

// Token is one preserved span of the original message.
type Token struct {
	Placeholder string
	Original    string
	Type        TokenType
	Start       int // byte offset in the original message
	End         int
}

// TokenMap is the ordered per-request mapping from placeholders back to
// original text.
type TokenMap struct {
	Tokens []Token
}

// Placeholders use a bracketed numeric shape that no language model reads as
// a word, so translation leaves them in place.
func placeholder(i int) string {
	return fmt.Sprintf("⟦%d⟧", i) // ⟦0⟧, ⟦1⟧, …
}

var (
	urlRe     = regexp.MustCompile(`https?://[^\s]+`)
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	mentionRe = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	commandRe = regexp.MustCompile(`(^|\s)([!#][A-Za-z0-9_]+)`)
)

type span struct {
	start, end int
	typ        TokenType
	text       string
}

// Preserve extracts mentions, commands, emails, URLs, and emote codes from
// message, replacing each with a placeholder. Extraction scans left to
// right; overlapping matches keep the earliest, longest span.
func Preserve(message string, emotes []string) (string, *TokenMap) {
	var spans []span

	for _, m := range urlRe.FindAllStringIndex(message, -1) {
		spans = append(spans, span{m[0], m[1], TokenURL, message[m[0]:m[1]]})
	}
	for _, m := range emailRe.FindAllStringIndex(message, -1) {
		spans = append(spans, span{m[0], m[1], TokenEmail, message[m[0]:m[1]]})
	}
	for _, m := range mentionRe.FindAllStringIndex(message, -1) {
		spans = append(spans, span{m[0], m[1], TokenMention, message[m[0]:m[1]]})
	}
	for _, m := range commandRe.FindAllStringSubmatchIndex(message, -1) {
		// Group 2 is the command itself, without the leading boundary.
		spans = append(spans, span{m[4], m[5], TokenCommand, message[m[4]:m[5]]})
	}
	for _, code := range emotes {
		if code == "" {
			continue
		}
		for idx := 0; ; {
			at := strings.Index(message[idx:], code)
			if at < 0 {
				break
			}
			start := idx + at
			spans = append(spans, span{start, start + len(code), TokenEmote, code})
			idx = start + len(code)
		}
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	tm := &TokenMap{}
	var b strings.Builder
	cursor := 0
	for _, sp := range spans {
		if sp.start < cursor {
			continue // overlaps an already-preserved span
		}
		b.WriteString(message[cursor:sp.start])
		ph := placeholder(len(tm.Tokens))
		tm.Tokens = append(tm.Tokens, Token{
			Placeholder: ph,
			Original:    sp.text,
			Type:        sp.typ,
			Start:       sp.start,
			End:         sp.end,
		})
		b.WriteString(ph)
		cursor = sp.end
	}
	b.WriteString(message[cursor:])
	return b.String(), tm
}

// Restore substitutes every placeholder back with its original text. Emote
// codes come back byte-for-byte because the originals are stored verbatim.
func (tm *TokenMap) Restore(translated string) string {
	out := translated
	for _, tok := range tm.Tokens {
		out = strings.Replace(out, tok.Placeholder, tok.Original, 1)
	}
	return out
}

// Stripped returns the linguistic remainder of a preserved message, used to
// decide whether enough text is left to detect a language at all.
func Stripped(preserved string, tm *TokenMap) string {
	out := preserved
	for _, tok := range tm.Tokens {
		out = strings.Replace(out, tok.Placeholder, "", 1)
	}
	return strings.TrimSpace(out)
}
