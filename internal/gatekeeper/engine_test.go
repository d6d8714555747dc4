package gatekeeper

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"testing"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

func collect(t *testing.T, seq iter.Seq2[string, error]) (string, error) {
	t.Helper()
	var sb strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

func TestKeyRingRoundRobin(t *testing.T) {
	t.Parallel()

	ring := NewKeyRing([]string{"a", "b", "c"})
	got := []string{ring.Next(), ring.Next(), ring.Next(), ring.Next()}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeyRingFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "k1, k2")
	t.Setenv("ANTHROPIC_API_KEY_1", "k3")
	t.Setenv("ANTHROPIC_API_KEY_2", "k2") // duplicate, must be skipped

	ring := KeyRingFromEnv()
	if ring.Len() != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", ring.Len())
	}
}

func TestRespondRotatesKeysOnFailure(t *testing.T) {
	t.Parallel()

	var tried []string
	stream := func(ctx context.Context, apiKey, system string, history []domain.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			tried = append(tried, apiKey)
			if apiKey != "good" {
				yield("", errors.New("key rejected"))
				return
			}
			yield("access ", nil)
			yield("denied", nil)
		}
	}

	e := NewEngineWithStream(NewKeyRing([]string{"bad1", "bad2", "good"}), stream, slog.Default())
	out, err := collect(t, e.Respond(context.Background(), nil))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if out != "access denied" {
		t.Fatalf("unexpected reply: %q", out)
	}
	if len(tried) != 3 {
		t.Fatalf("expected 3 key attempts, got %v", tried)
	}
}

func TestRespondDoesNotReplayAfterFirstToken(t *testing.T) {
	t.Parallel()

	attempts := 0
	stream := func(ctx context.Context, apiKey, system string, history []domain.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			attempts++
			if !yield("partial ", nil) {
				return
			}
			yield("", errors.New("stream cut"))
		}
	}

	e := NewEngineWithStream(NewKeyRing([]string{"a", "b"}), stream, slog.Default())
	out, err := collect(t, e.Respond(context.Background(), nil))
	if err == nil {
		t.Fatal("expected mid-stream error to surface")
	}
	if out != "partial " {
		t.Fatalf("unexpected partial output: %q", out)
	}
	if attempts != 1 {
		t.Fatalf("half-delivered reply was replayed: %d attempts", attempts)
	}
}

func TestRespondFallsAsleepWhenAllKeysFail(t *testing.T) {
	t.Parallel()

	stream := func(ctx context.Context, apiKey, system string, history []domain.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			yield("", errors.New("down"))
		}
	}
	e := NewEngineWithStream(NewKeyRing([]string{"only"}), stream, slog.Default())

	out, err := collect(t, e.Respond(context.Background(), []domain.Message{
		{Role: domain.RoleUser, Content: "hello?"},
	}))
	if err != nil {
		t.Fatalf("fail state must not surface an error: %v", err)
	}
	if out != SleepTrigger {
		t.Fatalf("expected sleep trigger on first total failure, got %q", out)
	}

	// Once asleep, later failures snore instead of re-announcing stasis.
	out, err = collect(t, e.Respond(context.Background(), []domain.Message{
		{Role: domain.RoleUser, Content: "hello?"},
		{Role: domain.RoleAssistant, Content: SleepTrigger},
		{Role: domain.RoleUser, Content: "wake up"},
	}))
	if err != nil {
		t.Fatalf("fail state must not surface an error: %v", err)
	}
	if !strings.Contains(out, "Zzz") && !strings.Contains(out, "Sleeping") {
		t.Fatalf("expected snoring, got %q", out)
	}
}

func TestRespondEmergencyBypassesModel(t *testing.T) {
	t.Parallel()

	stream := func(ctx context.Context, apiKey, system string, history []domain.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			t.Error("model contacted while kill switch active")
		}
	}
	e := NewEngineWithStream(NewKeyRing([]string{"k"}), stream, slog.Default())
	e.SetEmergency(true)

	out, err := collect(t, e.Respond(context.Background(), nil))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !strings.Contains(out, domain.UnlockMarker) {
		t.Fatalf("override stream must carry the unlock marker: %q", out)
	}
}

func TestSystemPromptCarriesAMode(t *testing.T) {
	t.Parallel()

	p := systemPrompt()
	if !strings.Contains(p, "CURRENT MODE:") {
		t.Fatalf("mode not injected: %q", p[len(p)-80:])
	}
	if !strings.Contains(p, domain.UnlockMarker) {
		t.Fatal("win condition must name the unlock marker")
	}
}
