package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"waifu-chat/internal/config"
	"waifu-chat/internal/dialog"
	"waifu-chat/internal/llm"
	"waifu-chat/internal/store"
)

type fakeClient struct {
	reply string
	err   error
	// blockUntilCtxDone simulates a hung provider: Generate returns
	// only after the attempt context is cancelled.
	blockUntilCtxDone bool
	seen              [][]llm.Message
}

func (f *fakeClient) Generate(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	f.seen = append(f.seen, messages)
	if f.blockUntilCtxDone {
		<-ctx.Done()
		return llm.Response{Content: "late reply"}, nil
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply}, nil
}

func newTestService(t *testing.T, clients map[string]llm.Client, providers ...config.ProviderConfig) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "dialogs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc := &Service{
		store:    st,
		snapshot: func() []config.ProviderConfig { return providers },
		newClient: func(pc config.ProviderConfig) (llm.Client, error) {
			c, ok := clients[pc.Name]
			if !ok {
				return nil, fmt.Errorf("no fake for %s", pc.Name)
			}
			return c, nil
		},
		defaultResponse: "sorry",
		genre:           "Romance",
		autoCreate:      true,
		attemptTimeout:  time.Second,
	}
	return svc, st
}

func getHistory(t *testing.T, st *store.Store, userID string) dialog.History {
	t.Helper()
	h, err := st.GetDialog(context.Background(), userID)
	if err != nil {
		t.Fatalf("get dialog failed: %v", err)
	}
	return h
}

func TestChatFallsBackToNextProvider(t *testing.T) {
	p1 := &fakeClient{err: fmt.Errorf("%w: boom", llm.ErrUnavailable)}
	p2 := &fakeClient{reply: "hi from p2"}
	svc, st := newTestService(t,
		map[string]llm.Client{"p1": p1, "p2": p2},
		config.ProviderConfig{Name: "p1", APIKey: "k", Priority: 1},
		config.ProviderConfig{Name: "p2", APIKey: "k", Priority: 2},
	)

	reply, err := svc.Chat(context.Background(), "u1", "hello")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if reply != "hi from p2" {
		t.Fatalf("got reply %q, want p2's", reply)
	}
	if len(p1.seen) != 1 || len(p2.seen) != 1 {
		t.Fatalf("attempt counts: p1=%d p2=%d", len(p1.seen), len(p2.seen))
	}

	h := getHistory(t, st, "u1")
	if len(h) != 2 {
		t.Fatalf("exactly one user and one agent entry expected, got %d entries", len(h))
	}
	if h[0].Speaker != dialog.SpeakerUser || h[0].Text != "hello" {
		t.Fatalf("unexpected user entry: %+v", h[0])
	}
	if h[1].Speaker != dialog.SpeakerWaifu || h[1].Text != "hi from p2" {
		t.Fatalf("unexpected agent entry: %+v", h[1])
	}
}

func TestChatTotalFailureUsesDefaultAndPersistsIt(t *testing.T) {
	p1 := &fakeClient{err: fmt.Errorf("%w: down", llm.ErrUnavailable)}
	svc, st := newTestService(t,
		map[string]llm.Client{"p1": p1},
		config.ProviderConfig{Name: "p1", APIKey: "k", Priority: 1},
	)

	reply, err := svc.Chat(context.Background(), "u1", "hi")
	if err != nil {
		t.Fatalf("chat must not fail on provider errors: %v", err)
	}
	if reply != "sorry" {
		t.Fatalf("got %q, want default response", reply)
	}

	h := getHistory(t, st, "u1")
	if len(h) != 2 || h[0].Text != "hi" || h[1].Text != "sorry" {
		t.Fatalf("transcript must contain the user message then the default reply: %+v", h)
	}
}

func TestChatEmptyProviderChain(t *testing.T) {
	svc, st := newTestService(t, nil)

	reply, err := svc.Chat(context.Background(), "u1", "hi")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if reply != "sorry" {
		t.Fatalf("got %q, want default response", reply)
	}
	if h := getHistory(t, st, "u1"); len(h) != 2 {
		t.Fatalf("turn must still be persisted, got %d entries", len(h))
	}
}

func TestChatAutoCreatesUnknownUser(t *testing.T) {
	p := &fakeClient{reply: "welcome"}
	svc, st := newTestService(t,
		map[string]llm.Client{"p": p},
		config.ProviderConfig{Name: "p", APIKey: "k", Priority: 1},
	)

	if _, err := svc.Chat(context.Background(), "newcomer", "hi"); err != nil {
		t.Fatalf("chat must not fail for a new user: %v", err)
	}
	exists, err := st.UserExists(context.Background(), "newcomer")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatalf("user must be provisioned by chat")
	}
}

func TestChatStrictModeRejectsUnknownUser(t *testing.T) {
	p := &fakeClient{reply: "hi"}
	svc, st := newTestService(t,
		map[string]llm.Client{"p": p},
		config.ProviderConfig{Name: "p", APIKey: "k", Priority: 1},
	)
	svc.autoCreate = false

	_, err := svc.Chat(context.Background(), "stranger", "hi")
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
	exists, err := st.UserExists(context.Background(), "stranger")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatalf("strict mode must not provision users")
	}
	if len(p.seen) != 0 {
		t.Fatalf("no provider call expected, got %d", len(p.seen))
	}
}

func TestChatDiscardsTimedOutAttempt(t *testing.T) {
	slow := &fakeClient{blockUntilCtxDone: true}
	fast := &fakeClient{reply: "on time"}
	svc, st := newTestService(t,
		map[string]llm.Client{"slow": slow, "fast": fast},
		config.ProviderConfig{Name: "slow", APIKey: "k", Priority: 1},
		config.ProviderConfig{Name: "fast", APIKey: "k", Priority: 2},
	)
	svc.attemptTimeout = 20 * time.Millisecond

	reply, err := svc.Chat(context.Background(), "u1", "hi")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if reply != "on time" {
		t.Fatalf("got %q, want the fast provider's reply", reply)
	}

	// Give the abandoned goroutine a moment to deliver its late result,
	// then confirm it was dropped.
	time.Sleep(50 * time.Millisecond)
	h := getHistory(t, st, "u1")
	if len(h) != 2 || h[1].Text != "on time" {
		t.Fatalf("late result must never be persisted: %+v", h)
	}
}

func TestChatContextIncludesHistoryAndNewMessage(t *testing.T) {
	p := &fakeClient{reply: "second reply"}
	svc, _ := newTestService(t,
		map[string]llm.Client{"p": p},
		config.ProviderConfig{Name: "p", APIKey: "k", Priority: 1},
	)

	if _, err := svc.Chat(context.Background(), "u1", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Chat(context.Background(), "u1", "second"); err != nil {
		t.Fatal(err)
	}

	if len(p.seen) != 2 {
		t.Fatalf("want 2 attempts, got %d", len(p.seen))
	}
	msgs := p.seen[1]
	if msgs[0].Role != llm.RoleSystem {
		t.Fatalf("context must start with the system prompt, got %+v", msgs[0])
	}
	// system, first, reply-to-first, second
	if len(msgs) != 4 {
		t.Fatalf("want 4 context messages, got %d: %+v", len(msgs), msgs)
	}
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || last.Content != "second" {
		t.Fatalf("new message must be the last context entry, got %+v", last)
	}
	if msgs[2].Role != llm.RoleAssistant {
		t.Fatalf("agent turns must map to the assistant role, got %+v", msgs[2])
	}
}
