package responder

import (
	"testing"

	"github.com/m3rciful/wabot/core/textnorm"
	"github.com/m3rciful/wabot/internal/store"
)

func TestPhoneNumber(t *testing.T) {
	tests := map[string]string{
		"5511999998888@s.whatsapp.net":    "5511999998888",
		"5511999998888:12@s.whatsapp.net": "5511999998888",
		"+34600111222@c.us":               "34600111222",
		"34600111222":                     "34600111222",
		"":                                "",
	}
	for in, want := range tests {
		if got := PhoneNumber(in); got != want {
			t.Errorf("PhoneNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatch(t *testing.T) {
	flows := []store.Flow{
		{ID: 1, Keyword: "   "},
		{ID: 2, Keyword: "Información"},
		{ID: 3, Keyword: "horario"},
		{ID: 4, Keyword: "informacion"},
	}
	tests := []struct {
		body   string
		wantID int64
		ok     bool
	}{
		{"quiero INFORMACION", 2, true},
		{"horario e información", 2, true},
		{"¿horario?", 0, false},
		{"", 0, false},
		{"   ", 0, false},
	}
	for _, tt := range tests {
		flow, ok := Match(flows, textnorm.Tokens(tt.body))
		if ok != tt.ok || flow.ID != tt.wantID {
			t.Errorf("Match(%q) = %d, %v; want %d, %v", tt.body, flow.ID, ok, tt.wantID, tt.ok)
		}
	}
}
