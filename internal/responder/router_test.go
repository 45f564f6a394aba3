package responder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/wabot/internal/store"
)

const testFrom = "5511999998888@s.whatsapp.net"

func newWelcomedFixture(state store.ChatbotState) (*fakeStore, *fakeSender, *Router) {
	st := newFakeStore()
	st.chatbots[1] = state
	st.sessions["5511999998888"] = &session{welcomed: true, chatbotID: 1}
	st.flows = []store.Flow{{ID: 1, Keyword: "hola", Answer: "¡Hola! ¿En qué te ayudo?", ChatbotID: 1}}
	st.defaultReply = "No entendí tu mensaje."
	out := &fakeSender{}
	return st, out, New(st, out)
}

func TestFirstMessageSendsWelcome(t *testing.T) {
	st := newFakeStore()
	st.chatbots[1] = store.StateActive
	st.welcome = "Bienvenido"
	out := &fakeSender{}
	r := New(st, out)

	if st.welcomed("5511999998888") {
		t.Fatal("number should start as not welcomed")
	}
	outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeWelcome {
		t.Fatalf("outcome = %s", outcome)
	}
	msgs := out.messages()
	if len(msgs) != 1 || msgs[0].text != "Bienvenido" || msgs[0].phone != "5511999998888" {
		t.Fatalf("sent = %+v", msgs)
	}
	if !st.welcomed("5511999998888") {
		t.Fatal("number should be welcomed after first message")
	}
	if id, ok, _ := st.SessionChatbot(context.Background(), "5511999998888"); !ok || id != 1 {
		t.Fatalf("session chatbot = %d, %v", id, ok)
	}

	// The second message goes through keyword matching.
	st.flows = []store.Flow{{ID: 1, Keyword: "hola", Answer: "respuesta", ChatbotID: 1}}
	if outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"}); err != nil || outcome != OutcomeKeyword {
		t.Fatalf("second handle = %s, %v", outcome, err)
	}
	if msgs := out.messages(); len(msgs) != 2 || msgs[1].text != "respuesta" {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestEmptyWelcomeStillTransitions(t *testing.T) {
	st := newFakeStore()
	out := &fakeSender{}
	r := New(st, out)

	outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"})
	if err != nil || outcome != OutcomeWelcome {
		t.Fatalf("handle = %s, %v", outcome, err)
	}
	if len(out.messages()) != 0 {
		t.Fatalf("nothing should be sent, got %+v", out.messages())
	}
	if !st.welcomed("5511999998888") {
		t.Fatal("empty welcome must still mark the number welcomed")
	}
}

func TestWelcomeSendFailureKeepsTransition(t *testing.T) {
	st := newFakeStore()
	st.welcome = "Bienvenido"
	out := &fakeSender{textErr: errSendFailed}
	r := New(st, out)

	_, err := r.Handle(context.Background(), Message{From: testFrom})
	if !errors.Is(err, errSendFailed) {
		t.Fatalf("err = %v", err)
	}
	if !st.welcomed("5511999998888") {
		t.Fatal("claim must survive a failed send")
	}
}

func TestKeywordMatchIsCaseAndAccentInsensitive(t *testing.T) {
	for _, body := range []string{"Hola", "HOLA amigo", "  hólá ", "quiero decir\thola"} {
		st, out, r := newWelcomedFixture(store.StateActive)
		outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: body})
		if err != nil || outcome != OutcomeKeyword {
			t.Fatalf("%q: handle = %s, %v", body, outcome, err)
		}
		msgs := out.messages()
		if len(msgs) != 1 || msgs[0].text != st.flows[0].Answer {
			t.Fatalf("%q: sent = %+v", body, msgs)
		}
	}
}

func TestKeywordRequiresWholeToken(t *testing.T) {
	_, out, r := newWelcomedFixture(store.StateActive)
	outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "holaaa"})
	if err != nil || outcome != OutcomeDefault {
		t.Fatalf("handle = %s, %v", outcome, err)
	}
	if msgs := out.messages(); len(msgs) != 1 || msgs[0].text != "No entendí tu mensaje." {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestInactiveChatbotSendsNothing(t *testing.T) {
	_, out, r := newWelcomedFixture(store.StateInactive)
	outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "Hola"})
	if err != nil || outcome != OutcomeInactive {
		t.Fatalf("handle = %s, %v", outcome, err)
	}
	if msgs := out.messages(); len(msgs) != 0 {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestDefaultReply(t *testing.T) {
	tests := []struct {
		name     string
		state    store.ChatbotState
		reply    string
		wantSent bool
	}{
		{"active with reply", store.StateActive, "No entendí", true},
		{"active without reply", store.StateActive, "", false},
		{"inactive with reply", store.StateInactive, "No entendí", false},
		{"unknown state", store.ChatbotState("pausado"), "No entendí", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, out, r := newWelcomedFixture(tt.state)
			st.defaultReply = tt.reply
			outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "precio del plan"})
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			msgs := out.messages()
			if tt.wantSent {
				if outcome != OutcomeDefault || len(msgs) != 1 || msgs[0].text != tt.reply {
					t.Fatalf("outcome = %s, sent = %+v", outcome, msgs)
				}
				return
			}
			if outcome != OutcomeSilent || len(msgs) != 0 {
				t.Fatalf("outcome = %s, sent = %+v", outcome, msgs)
			}
		})
	}
}

func TestDefaultReplyUsesSessionChatbot(t *testing.T) {
	st, out, r := newWelcomedFixture(store.StateActive)
	// The first loaded flow belongs to an inactive chatbot, the session's does not.
	st.chatbots[2] = store.StateInactive
	st.flows = append([]store.Flow{{ID: 9, Keyword: "otro", Answer: "x", ChatbotID: 2}}, st.flows...)

	outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "nada"})
	if err != nil || outcome != OutcomeDefault {
		t.Fatalf("handle = %s, %v", outcome, err)
	}
	if len(out.messages()) != 1 {
		t.Fatalf("sent = %+v", out.messages())
	}
}

func TestDefaultReplyFallsBackToPrimaryChatbot(t *testing.T) {
	st, out, r := newWelcomedFixture(store.StateActive)
	st.sessions["5511999998888"].chatbotID = 0
	st.flows = nil

	outcome, err := r.Handle(context.Background(), Message{From: testFrom, Body: "nada"})
	if err != nil || outcome != OutcomeDefault || len(out.messages()) != 1 {
		t.Fatalf("handle = %s, %v, sent = %+v", outcome, err, out.messages())
	}

	delete(st.chatbots, 1)
	outcome, err = r.Handle(context.Background(), Message{From: testFrom, Body: "nada"})
	if err != nil || outcome != OutcomeSilent {
		t.Fatalf("handle without chatbots = %s, %v", outcome, err)
	}
}

func TestFirstMatchWins(t *testing.T) {
	st, out, r := newWelcomedFixture(store.StateActive)
	st.flows = []store.Flow{
		{ID: 1, Keyword: "precio", Answer: "precio-1", ChatbotID: 1},
		{ID: 2, Keyword: "hola", Answer: "hola-2", ChatbotID: 1},
		{ID: 3, Keyword: "Precio", Answer: "precio-3", ChatbotID: 1},
	}
	if _, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola precio"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if msgs := out.messages(); len(msgs) != 1 || msgs[0].text != "precio-1" {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestMediaFallback(t *testing.T) {
	st, out, r := newWelcomedFixture(store.StateActive)
	st.flows[0].MediaURL = "https://cdn.example/menu.jpg"

	if _, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msgs := out.messages()
	if len(msgs) != 1 || msgs[0].media != "https://cdn.example/menu.jpg" {
		t.Fatalf("sent = %+v", msgs)
	}

	out.sent = nil
	out.mediaErr = errSendFailed
	if _, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"}); err != nil {
		t.Fatalf("handle with media failure: %v", err)
	}
	msgs = out.messages()
	if len(msgs) != 1 || msgs[0].media != "" || msgs[0].text != st.flows[0].Answer {
		t.Fatalf("fallback sent = %+v", msgs)
	}

	out.sent = nil
	out.textErr = errSendFailed
	_, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"})
	if !errors.Is(err, errSendFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(out.messages()) != 0 {
		t.Fatalf("sent = %+v", out.messages())
	}
}

func TestStalledMediaStillSendsText(t *testing.T) {
	st, out, _ := newWelcomedFixture(store.StateActive)
	st.flows[0].MediaURL = "https://slow.example/menu.jpg"
	out.mediaStalls = true
	r := New(st, out, WithMediaTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := r.Handle(ctx, Message{From: testFrom, Body: "hola"})
	if err != nil || outcome != OutcomeKeyword {
		t.Fatalf("handle: outcome=%s err=%v", outcome, err)
	}
	msgs := out.messages()
	if len(msgs) != 1 || msgs[0].media != "" || msgs[0].text != st.flows[0].Answer {
		t.Fatalf("fallback sent = %+v", msgs)
	}
	if ctx.Err() != nil {
		t.Fatal("media attempt consumed the caller deadline")
	}
}

func TestRepliesGoToReplyAddress(t *testing.T) {
	st, out, r := newWelcomedFixture(store.StateActive)
	const lid = "98765432101234@lid"
	st.sessions["98765432101234"] = &session{welcomed: true, chatbotID: 1}

	if _, err := r.Handle(context.Background(), Message{From: lid, ReplyTo: lid, Body: "hola"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := r.Handle(context.Background(), Message{From: lid, ReplyTo: lid, Body: "otra cosa"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	msgs := out.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent = %+v", msgs)
	}
	for _, m := range msgs {
		if m.phone != lid {
			t.Fatalf("reply sent to %q, want %q", m.phone, lid)
		}
	}
}

func TestConcurrentFirstMessagesWelcomeOnce(t *testing.T) {
	st := newFakeStore()
	st.chatbots[1] = store.StateActive
	st.welcome = "Bienvenido"
	out := &fakeSender{}
	r := New(st, out)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"}); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	var welcomes int
	for _, m := range out.messages() {
		if m.text == "Bienvenido" {
			welcomes++
		}
	}
	if welcomes != 1 {
		t.Fatalf("welcomes sent = %d, want 1", welcomes)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	st := newFakeStore()
	st.failAll = errors.New("db down")
	out := &fakeSender{}
	r := New(st, out)

	if _, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"}); err == nil {
		t.Fatal("expected error")
	}
	if len(out.messages()) != 0 {
		t.Fatal("nothing should be sent on store failure")
	}
}

func TestConversationTracking(t *testing.T) {
	st, _, _ := newWelcomedFixture(store.StateActive)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(st, &fakeSender{}, WithConversationTracking(true), WithClock(func() time.Time { return at }))

	if _, err := r.Handle(context.Background(), Message{From: testFrom, Body: "hola"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := st.conversations["5511999998888"]; !got.Equal(at) {
		t.Fatalf("last interaction = %v", got)
	}
}

func TestHandleWithoutSender(t *testing.T) {
	r := New(newFakeStore(), &fakeSender{})
	if _, err := r.Handle(context.Background(), Message{From: "@s.whatsapp.net"}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err = %v", err)
	}
}
