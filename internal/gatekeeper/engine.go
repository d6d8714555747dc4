// Package gatekeeper runs the persona engine: the streamed LLM
// interrogation that decides, via the unlock marker, who passes the gate.
package gatekeeper

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/config"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
)

// StreamFunc opens one completion stream against the upstream model
// using the given API key. Injected so tests can run without credentials.
type StreamFunc func(ctx context.Context, apiKey, system string, history []domain.Message) iter.Seq2[string, error]

// Engine streams persona responses, rotating API keys on failure and
// degrading to the sleep state when every key is exhausted.
type Engine struct {
	ring      *KeyRing
	stream    StreamFunc
	emergency atomic.Bool
	log       *slog.Logger
}

// NewEngine creates the engine wired to the Anthropic API.
func NewEngine(cfg *config.Config, ring *KeyRing, logger *slog.Logger) *Engine {
	return &Engine{
		ring:   ring,
		stream: anthropicStream(cfg.Model, cfg.MaxTokens, cfg.Temperature),
		log:    logger,
	}
}

// NewEngineWithStream creates an engine with a custom stream source.
func NewEngineWithStream(ring *KeyRing, stream StreamFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ring: ring, stream: stream, log: logger}
}

// SetEmergency flips the kill switch. While active the model is
// bypassed and every candidate receives the canned override stream.
func (e *Engine) SetEmergency(on bool) {
	e.emergency.Store(on)
}

// Emergency reports whether the kill switch is active.
func (e *Engine) Emergency() bool {
	return e.emergency.Load()
}

// Respond streams the persona's reply to the conversation so far.
// Each key gets one attempt per request; a failure before the first
// token advances to the next key after a short backoff, a failure
// mid-stream is surfaced as-is (a half-delivered reply must never be
// silently replayed through another key). When every key has failed
// the persona falls asleep instead of erroring.
func (e *Engine) Respond(ctx context.Context, history []domain.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if e.emergency.Load() {
			yield(emergencyMessage, nil)
			return
		}

		system := systemPrompt()
		attempts := e.ring.Len()
		if attempts == 0 {
			attempts = 1
		}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 200 * time.Millisecond
		bo.MaxInterval = 2 * time.Second

		for attempt := 0; attempt < attempts; attempt++ {
			key := e.ring.Next()
			yielded := false
			var streamErr error

			for chunk, err := range e.stream(ctx, key, system, history) {
				if err != nil {
					if yielded {
						yield("", err)
						return
					}
					e.log.Warn("upstream key failed", "attempt", attempt+1, "error", err)
					streamErr = err
					break
				}
				yielded = true
				if !yield(chunk, nil) {
					return
				}
			}

			if streamErr == nil {
				return
			}
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			// A bad key rotates immediately; throttling and server
			// errors earn a pause before the next key.
			if attempt < attempts-1 && isRetryable(streamErr) {
				select {
				case <-time.After(bo.NextBackOff()):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
		}

		e.log.Error("all upstream keys exhausted, entering fail state")
		yield(e.sleepResponse(history), nil)
	}
}

// sleepResponse implements the persona fail state: fall asleep on the
// first total failure, keep snoring on subsequent ones.
func (e *Engine) sleepResponse(history []domain.Message) string {
	last := domain.LastAssistantOf(history)
	if last == SleepTrigger || strings.Contains(last, "Zzz") {
		return sleepNoises[rand.IntN(len(sleepNoises))]
	}
	return SleepTrigger
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func anthropicStream(model string, maxTokens int64, temperature float64) StreamFunc {
	return func(ctx context.Context, apiKey, system string, history []domain.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			client := anthropic.NewClient(option.WithAPIKey(apiKey))

			msgs := make([]anthropic.MessageParam, 0, len(history))
			for _, m := range history {
				switch m.Role {
				case domain.RoleAssistant:
					msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
				default:
					msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
				}
			}

			stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
				Model:       anthropic.Model(model),
				MaxTokens:   maxTokens,
				Temperature: anthropic.Float(temperature),
				System:      []anthropic.TextBlockParam{{Text: system}},
				Messages:    msgs,
			})
			defer stream.Close()

			for stream.Next() {
				event := stream.Current()
				if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
					if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
						if !yield(text.Text, nil) {
							return
						}
					}
				}
			}
			if err := stream.Err(); err != nil {
				yield("", err)
			}
		}
	}
}
