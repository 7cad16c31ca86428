package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"waifu-chat/internal/config"
	"waifu-chat/internal/dialog"
	"waifu-chat/internal/llm"
	"waifu-chat/internal/storage"
	"waifu-chat/internal/store"
)

// Service runs one chat turn: load history, walk the provider fallback
// chain, persist the turn, return the reply. Provider failures are
// contained here and degrade to the configured default response;
// storage failures propagate to the caller.
type Service struct {
	store           *store.Store
	snapshot        func() []config.ProviderConfig
	newClient       func(config.ProviderConfig) (llm.Client, error)
	recorder        storage.Recorder
	defaultResponse string
	genre           string
	autoCreate      bool
	attemptTimeout  time.Duration
}

func New(st *store.Store, cfg *config.Config, rec storage.Recorder) *Service {
	return &Service{
		store:           st,
		snapshot:        cfg.ProviderSnapshot,
		newClient:       llm.NewClient,
		recorder:        rec,
		defaultResponse: cfg.DefaultResponse,
		genre:           cfg.DefaultGenre,
		autoCreate:      cfg.AutoCreateUsers,
		attemptTimeout:  time.Duration(cfg.ProviderTimeoutSeconds) * time.Second,
	}
}

// Chat handles one message from userID and returns the reply text.
// Unknown users are provisioned silently when auto-create is on
// (the default); with auto-create off the turn fails with
// store.ErrUserNotFound instead. When every provider fails, the
// default response is returned AND persisted as the agent entry, so
// the stored transcript matches what the user actually saw.
func (s *Service) Chat(ctx context.Context, userID, message string) (string, error) {
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return "", err
	}
	if !exists {
		if !s.autoCreate {
			return "", fmt.Errorf("chat with %s: %w", userID, store.ErrUserNotFound)
		}
		if err := s.store.CreateUser(ctx, userID); err != nil && !errors.Is(err, store.ErrUserExists) {
			return "", err
		}
	}

	history, err := s.store.GetDialog(ctx, userID)
	if err != nil {
		return "", err
	}

	userEntry := dialog.Entry{
		Speaker:   dialog.SpeakerUser,
		Text:      message,
		Timestamp: time.Now().UTC(),
	}

	reply, provider := s.generate(ctx, s.buildContext(history, message))
	fallback := provider == ""
	if fallback {
		reply = s.defaultResponse
	}

	agentEntry := dialog.Entry{
		Speaker:   dialog.SpeakerWaifu,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	}

	// One transaction for both entries: a storage failure here leaves
	// no dangling unanswered user turn.
	if err := s.store.AppendTurn(ctx, userID, userEntry, agentEntry); err != nil {
		return "", err
	}

	if s.recorder != nil {
		ev := storage.Event{
			Timestamp:    userEntry.Timestamp,
			UserID:       userID,
			UserMessage:  message,
			Response:     reply,
			Provider:     provider,
			FallbackUsed: fallback,
		}
		if err := s.recorder.AppendInteraction(ev); err != nil {
			log.Printf("failed to record interaction for %s: %v", userID, err)
		}
	}

	return reply, nil
}

// generate walks the fallback chain and returns the first successful
// reply together with the provider name, or ("", "") when the chain is
// empty or exhausted.
func (s *Service) generate(ctx context.Context, msgs []llm.Message) (string, string) {
	for _, pc := range llm.Resolve(s.snapshot()) {
		client, err := s.newClient(pc)
		if err != nil {
			log.Printf("provider %s: failed to build client: %v", pc.Name, err)
			continue
		}
		reply, err := s.attempt(ctx, client, msgs)
		if err != nil {
			log.Printf("provider %s failed, trying next: %v", pc.Name, err)
			continue
		}
		return reply, pc.Name
	}
	return "", ""
}

type attemptResult struct {
	resp llm.Response
	err  error
}

// attempt runs a single provider call under the per-attempt timeout.
// A result arriving after the timeout is discarded, never persisted.
func (s *Service) attempt(ctx context.Context, client llm.Client, msgs []llm.Message) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	// Buffered so a late completion does not leak the goroutine.
	done := make(chan attemptResult, 1)
	go func() {
		resp, err := client.Generate(attemptCtx, msgs)
		done <- attemptResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if r.resp.Content == "" {
			return "", fmt.Errorf("%w: empty reply", llm.ErrUnavailable)
		}
		return r.resp.Content, nil
	case <-attemptCtx.Done():
		return "", fmt.Errorf("%w: attempt aborted: %v", llm.ErrUnavailable, attemptCtx.Err())
	}
}

func (s *Service) buildContext(history dialog.History, message string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{
		Role: llm.RoleSystem,
		Content: fmt.Sprintf(
			"You are Waifu, an affectionate conversational companion. Keep the conversation in the %s genre and stay in character.",
			s.genre),
	})
	for _, e := range history {
		role := llm.RoleUser
		if e.Speaker == dialog.SpeakerWaifu {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
	return msgs
}
