package responder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m3rciful/wabot/internal/store"
)

type session struct {
	welcomed  bool
	chatbotID int64
}

type fakeStore struct {
	mu sync.Mutex

	sessions      map[string]*session
	chatbots      map[int64]store.ChatbotState
	flows         []store.Flow
	welcome       string
	defaultReply  string
	primary       int64
	conversations map[string]time.Time

	failAll error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:      map[string]*session{},
		chatbots:      map[int64]store.ChatbotState{},
		conversations: map[string]time.Time{},
	}
}

func (f *fakeStore) HasReceivedWelcome(_ context.Context, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return false, f.failAll
	}
	s, ok := f.sessions[phone]
	return ok && s.welcomed, nil
}

func (f *fakeStore) ClaimWelcome(_ context.Context, phone string, chatbotID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return false, f.failAll
	}
	s, ok := f.sessions[phone]
	if ok && s.welcomed {
		return false, nil
	}
	if !ok {
		s = &session{}
		f.sessions[phone] = s
	}
	s.welcomed = true
	if s.chatbotID == 0 {
		s.chatbotID = chatbotID
	}
	return true, nil
}

func (f *fakeStore) SessionChatbot(_ context.Context, phone string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[phone]
	if !ok || s.chatbotID == 0 {
		return 0, false, nil
	}
	return s.chatbotID, true, nil
}

func (f *fakeStore) PrimaryChatbot(context.Context) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primary > 0 {
		return f.primary, true, nil
	}
	var lowest int64
	for id := range f.chatbots {
		if lowest == 0 || id < lowest {
			lowest = id
		}
	}
	return lowest, lowest > 0, nil
}

func (f *fakeStore) ChatbotState(_ context.Context, id int64) (store.ChatbotState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.chatbots[id]
	if !ok {
		return store.StateInactive, nil
	}
	return state, nil
}

func (f *fakeStore) WelcomeMessage(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.welcome, nil
}

func (f *fakeStore) DefaultReply(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defaultReply, nil
}

func (f *fakeStore) ListFlows(context.Context) ([]store.Flow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Flow(nil), f.flows...), nil
}

func (f *fakeStore) TouchConversation(_ context.Context, phone string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[phone] = at
	return nil
}

func (f *fakeStore) welcomed(phone string) bool {
	ok, _ := f.HasReceivedWelcome(context.Background(), phone)
	return ok
}

type sent struct {
	phone string
	text  string
	media string
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sent
	mediaErr  error
	textErr   error
	mediaSeen int
	// mediaStalls makes SendMedia wait for its context to end.
	mediaStalls bool
}

var errSendFailed = errors.New("send failed")

func (s *fakeSender) SendText(ctx context.Context, phone, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.textErr != nil {
		return s.textErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sent = append(s.sent, sent{phone: phone, text: text})
	return nil
}

func (s *fakeSender) SendMedia(ctx context.Context, phone, caption, mediaURL string) error {
	s.mu.Lock()
	s.mediaSeen++
	stalls := s.mediaStalls
	s.mu.Unlock()
	if stalls {
		<-ctx.Done()
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mediaErr != nil {
		return s.mediaErr
	}
	s.sent = append(s.sent, sent{phone: phone, text: caption, media: mediaURL})
	return nil
}

func (s *fakeSender) messages() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}
