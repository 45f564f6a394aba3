package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fixtureYAML = `chatbots:
  - id: 2
    estado: activo
  - id: 5
    estado: inactivo
flows:
  - keyword: precio
    answer: Nuestros precios
    chatbot: 2
  - keyword: catalogo
    answer: Mira el catálogo
    media_url: https://example.com/catalogo.pdf
    chatbot: 2
  - keyword: horario
    answer: Cerrado
    chatbot: 5
welcome:
  reply: "  Bienvenido  "
  default_reply: No entendí
  session_hours: 24
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestSeedEmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	f, err := LoadFixture(writeFixture(t, fixtureYAML))
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	seeded, err := s.Seed(ctx, f)
	if err != nil || !seeded {
		t.Fatalf("seed: seeded=%v err=%v", seeded, err)
	}

	flows, err := s.ListFlows(ctx)
	if err != nil {
		t.Fatalf("list flows: %v", err)
	}
	if len(flows) != 3 || flows[0].Keyword != "precio" || flows[2].ChatbotID != 5 {
		t.Fatalf("flows = %+v", flows)
	}
	if !flows[1].HasMedia() {
		t.Fatal("catalogo should carry media")
	}
	if st, _ := s.ChatbotState(ctx, 5); !st.Inactive() {
		t.Fatalf("chatbot 5 state = %q", st)
	}
	if msg, _ := s.WelcomeMessage(ctx); msg != "Bienvenido" {
		t.Fatalf("welcome = %q", msg)
	}
	if d, err := s.SessionDuration(ctx); err != nil || d != 24*time.Hour {
		t.Fatalf("duration = %v err=%v", d, err)
	}

	again, err := s.Seed(ctx, f)
	if err != nil || again {
		t.Fatalf("second seed: seeded=%v err=%v", again, err)
	}
	if flows, _ := s.ListFlows(ctx); len(flows) != 3 {
		t.Fatalf("second seed wrote rows: %d flows", len(flows))
	}
}

func TestLoadFixtureValidation(t *testing.T) {
	tests := map[string]string{
		"unknown chatbot":   "chatbots: [{id: 1}]\nflows: [{keyword: a, answer: b, chatbot: 9}]\n",
		"empty keyword":     "chatbots: [{id: 1}]\nflows: [{keyword: ' ', answer: b, chatbot: 1}]\n",
		"duplicate chatbot": "chatbots: [{id: 1}, {id: 1}]\n",
		"bad id":            "chatbots: [{id: 0}]\n",
	}
	for name, body := range tests {
		if _, err := LoadFixture(writeFixture(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}
