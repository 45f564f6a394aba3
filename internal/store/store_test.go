package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/database"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := database.Config{
		Driver:        database.DriverSQLite,
		Path:          filepath.Join(t.TempDir(), "store.db"),
		MigrationsDir: filepath.Join("..", "..", "migrations"),
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	ctx := context.Background()
	if err := database.RunMigrations(ctx, cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *sqlx.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(db.Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func TestWelcomeFlag(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	got, err := s.HasReceivedWelcome(ctx, "5511999990000")
	if err != nil || got {
		t.Fatalf("HasReceivedWelcome on missing record = %v, %v", got, err)
	}

	for i := 0; i < 2; i++ {
		if err := s.MarkWelcomeSent(ctx, "5511999990000"); err != nil {
			t.Fatalf("MarkWelcomeSent #%d: %v", i, err)
		}
	}
	got, err = s.HasReceivedWelcome(ctx, "5511999990000")
	if err != nil || !got {
		t.Fatalf("HasReceivedWelcome after mark = %v, %v", got, err)
	}

	var rows int
	if err := db.Get(&rows, `SELECT COUNT(*) FROM closesessions WHERE phone_number = ?`, "5511999990000"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want 1", rows)
	}
}

func TestClaimWelcome(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, `INSERT INTO chatbots (id, estado) VALUES (7, 'activo')`)
	s := New(db)
	ctx := context.Background()

	claimed, err := s.ClaimWelcome(ctx, "111", 7)
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v", claimed, err)
	}
	claimed, err = s.ClaimWelcome(ctx, "111", 7)
	if err != nil || claimed {
		t.Fatalf("second claim = %v, %v", claimed, err)
	}

	id, ok, err := s.SessionChatbot(ctx, "111")
	if err != nil || !ok || id != 7 {
		t.Fatalf("SessionChatbot = %d, %v, %v", id, ok, err)
	}

	// A legacy row with the flag unset can still be claimed once.
	mustExec(t, db, `INSERT INTO closesessions (phone_number, received_welcome) VALUES ('222', FALSE)`)
	claimed, err = s.ClaimWelcome(ctx, "222", 7)
	if err != nil || !claimed {
		t.Fatalf("legacy claim = %v, %v", claimed, err)
	}
	if id, ok, _ := s.SessionChatbot(ctx, "222"); !ok || id != 7 {
		t.Fatalf("legacy session chatbot = %d, %v", id, ok)
	}

	// Without a chatbot the association stays empty.
	if _, err := s.ClaimWelcome(ctx, "333", 0); err != nil {
		t.Fatalf("claim without chatbot: %v", err)
	}
	if _, ok, err := s.SessionChatbot(ctx, "333"); err != nil || ok {
		t.Fatalf("session chatbot without association = %v, %v", ok, err)
	}
	if _, ok, err := s.SessionChatbot(ctx, "missing"); err != nil || ok {
		t.Fatalf("session chatbot for unknown number = %v, %v", ok, err)
	}
}

func TestClaimWelcomeConcurrent(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimWelcome(ctx, "999", 0)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claimed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

func TestChatbotState(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, `INSERT INTO chatbots (id, estado) VALUES (1, 'activo'), (2, 'inactivo')`)
	s := New(db)
	ctx := context.Background()

	tests := []struct {
		id       int64
		active   bool
		inactive bool
	}{
		{1, true, false},
		{2, false, true},
		{42, false, true},
	}
	for _, tt := range tests {
		state, err := s.ChatbotState(ctx, tt.id)
		if err != nil {
			t.Fatalf("ChatbotState(%d): %v", tt.id, err)
		}
		if state.Active() != tt.active || state.Inactive() != tt.inactive {
			t.Fatalf("ChatbotState(%d) = %q", tt.id, state)
		}
	}
}

func TestPrimaryChatbot(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	if _, ok, err := s.PrimaryChatbot(ctx); err != nil || ok {
		t.Fatalf("PrimaryChatbot on empty table = %v, %v", ok, err)
	}
	mustExec(t, db, `INSERT INTO chatbots (id, estado) VALUES (5, 'activo'), (3, 'inactivo')`)
	if id, ok, err := s.PrimaryChatbot(ctx); err != nil || !ok || id != 3 {
		t.Fatalf("PrimaryChatbot = %d, %v, %v", id, ok, err)
	}
	pinned := New(db, WithPrimaryChatbot(5))
	if id, ok, err := pinned.PrimaryChatbot(ctx); err != nil || !ok || id != 5 {
		t.Fatalf("pinned PrimaryChatbot = %d, %v, %v", id, ok, err)
	}
}

func TestPrimaryChatbotIgnoresMissingConfiguredID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := New(db, WithPrimaryChatbot(7))

	if _, ok, err := s.PrimaryChatbot(ctx); err != nil || ok {
		t.Fatalf("PrimaryChatbot without chatbots = %v, %v", ok, err)
	}

	mustExec(t, db, `INSERT INTO chatbots (id, estado) VALUES (1, 'activo')`)
	id, ok, err := s.PrimaryChatbot(ctx)
	if err != nil || !ok || id != 1 {
		t.Fatalf("PrimaryChatbot = %d, %v, %v; want fallback to 1", id, ok, err)
	}
	claimed, err := s.ClaimWelcome(ctx, "5511999998888", id)
	if err != nil || !claimed {
		t.Fatalf("ClaimWelcome = %v, %v", claimed, err)
	}
	if got, ok, err := s.SessionChatbot(ctx, "5511999998888"); err != nil || !ok || got != 1 {
		t.Fatalf("SessionChatbot = %d, %v, %v", got, ok, err)
	}
}

func TestWelcomeAndDefaultReply(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	if msg, err := s.WelcomeMessage(ctx); err != nil || msg != "" {
		t.Fatalf("WelcomeMessage without rows = %q, %v", msg, err)
	}
	mustExec(t, db, `INSERT INTO welcomes (welcomereply, defaultreply) VALUES (?, NULL)`, "  ¡Bienvenido!  \n")

	msg, err := s.WelcomeMessage(ctx)
	if err != nil || msg != "¡Bienvenido!" {
		t.Fatalf("WelcomeMessage = %q, %v", msg, err)
	}
	reply, err := s.DefaultReply(ctx)
	if err != nil || reply != "" {
		t.Fatalf("DefaultReply with NULL = %q, %v", reply, err)
	}
}

func TestSessionDuration(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()

	if _, err := s.SessionDuration(ctx); !errors.Is(err, ErrSessionDurationUnset) {
		t.Fatalf("missing row err = %v", err)
	}
	mustExec(t, db, `INSERT INTO welcome (session_duration) VALUES (NULL)`)
	if _, err := s.SessionDuration(ctx); !errors.Is(err, ErrSessionDurationUnset) {
		t.Fatalf("NULL duration err = %v", err)
	}
	mustExec(t, db, `UPDATE welcome SET session_duration = 24`)
	d, err := s.SessionDuration(ctx)
	if err != nil || d != 24*time.Hour {
		t.Fatalf("SessionDuration = %v, %v", d, err)
	}
}

func TestListFlowsOrderAndJoin(t *testing.T) {
	db := openTestDB(t)
	mustExec(t, db, `INSERT INTO chatbots (id, estado) VALUES (2, 'activo'), (1, 'activo')`)
	mustExec(t, db, `INSERT INTO flows (id, keyword, answer, media_url, chatbots_id) VALUES
		(10, 'precio', 'b2', NULL, 2),
		(11, 'hola', 'b1-late', 'https://cdn.example/menu.jpg', 1),
		(12, 'hola', 'b1-early', NULL, 1),
		(13, 'huerfano', 'orphan', NULL, 99)`)
	s := New(db)

	flows, err := s.ListFlows(context.Background())
	if err != nil {
		t.Fatalf("ListFlows: %v", err)
	}
	want := []int64{11, 12, 10}
	if len(flows) != len(want) {
		t.Fatalf("flows = %+v", flows)
	}
	for i, id := range want {
		if flows[i].ID != id {
			t.Fatalf("flows[%d].ID = %d, want %d", i, flows[i].ID, id)
		}
	}
	if !flows[0].HasMedia() || flows[1].HasMedia() {
		t.Fatalf("media flags wrong: %+v", flows[:2])
	}
}

func TestTouchAndPurgeConversations(t *testing.T) {
	db := openTestDB(t)
	s := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.TouchConversation(ctx, "old", now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("touch old: %v", err)
	}
	if err := s.TouchConversation(ctx, "fresh", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("touch fresh: %v", err)
	}
	// Touching again moves the row forward instead of duplicating it.
	if err := s.TouchConversation(ctx, "revived", now.Add(-5*time.Hour)); err != nil {
		t.Fatalf("touch revived: %v", err)
	}
	if err := s.TouchConversation(ctx, "revived", now); err != nil {
		t.Fatalf("touch revived again: %v", err)
	}

	deleted, err := s.PurgeConversations(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	var left []string
	if err := db.Select(&left, `SELECT phone_number FROM conversations ORDER BY phone_number`); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(left) != 2 || left[0] != "fresh" || left[1] != "revived" {
		t.Fatalf("remaining = %v", left)
	}
}
