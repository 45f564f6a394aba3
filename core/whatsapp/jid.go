package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// parseJID accepts a full JID or a bare phone number in any formatting.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("whatsapp: empty recipient")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 7 {
		return types.JID{}, fmt.Errorf("whatsapp: phone number too short: %q", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
