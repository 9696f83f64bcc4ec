package format

import (
	"context"
	"sync"
	"time"

	"grouplog/internal/cache"
	"grouplog/pkg/chatlog"
)

type stubRemote struct {
	mu sync.Mutex

	names    map[string]string
	messages map[string]chatlog.RawMessage
	forwards map[string][]chatlog.RawMessage
	recent   []chatlog.RawMessage

	messageErrs []error

	memberCalls  int
	messageCalls int
	forwardCalls int
}

func (s *stubRemote) GetMemberName(_ context.Context, _ string, userID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memberCalls++
	name, ok := s.names[userID]
	return name, ok, nil
}

func (s *stubRemote) GetMessage(_ context.Context, messageID string) (chatlog.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messageCalls++
	if len(s.messageErrs) > 0 {
		err := s.messageErrs[0]
		s.messageErrs = s.messageErrs[1:]
		return chatlog.RawMessage{}, false, err
	}
	message, ok := s.messages[messageID]
	return message, ok, nil
}

func (s *stubRemote) GetRecentMessages(_ context.Context, _ string, count int) ([]chatlog.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.recent) > count {
		return s.recent[len(s.recent)-count:], true, nil
	}
	return s.recent, true, nil
}

func (s *stubRemote) GetForwardMessages(_ context.Context, forwardID string) ([]chatlog.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forwardCalls++
	messages, ok := s.forwards[forwardID]
	return messages, ok, nil
}

func (s *stubRemote) calls() (member int, message int, forward int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.memberCalls, s.messageCalls, s.forwardCalls
}

func newTestCaches(t interface{ Fatalf(string, ...any) }) *cache.Set {
	caches, err := cache.NewSet(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("new cache set failed: %v", err)
	}
	return caches
}

func fastRetry() Option {
	return WithRetry(2, time.Millisecond, 2*time.Millisecond)
}

func textMessage(id string, userID string, nickname string, at int64, text string) chatlog.RawMessage {
	return chatlog.RawMessage{
		ID:       id,
		Sender:   chatlog.Sender{UserID: userID, Nickname: nickname},
		Time:     at,
		Segments: []chatlog.Segment{chatlog.TextSegment{Text: text}},
	}
}
