package responder

import (
	"strings"

	"github.com/m3rciful/wabot/core/textnorm"
	"github.com/m3rciful/wabot/internal/store"
)

// PhoneNumber extracts the number from a transport address such as
// "5511999998888:12@s.whatsapp.net".
func PhoneNumber(from string) string {
	user, _, _ := strings.Cut(strings.TrimSpace(from), "@")
	user, _, _ = strings.Cut(user, ":")
	return strings.TrimPrefix(user, "+")
}

// Match returns the first flow whose folded keyword equals one of tokens.
// Flows are scanned in the given order; blank keywords never match.
func Match(flows []store.Flow, tokens []string) (store.Flow, bool) {
	if len(flows) == 0 || len(tokens) == 0 {
		return store.Flow{}, false
	}
	words := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		words[tok] = struct{}{}
	}
	for _, flow := range flows {
		keyword := textnorm.Fold(strings.TrimSpace(flow.Keyword))
		if keyword == "" {
			continue
		}
		if _, ok := words[keyword]; ok {
			return flow, true
		}
	}
	return store.Flow{}, false
}
