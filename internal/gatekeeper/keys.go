package gatekeeper

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// KeyRing rotates through API keys round-robin so one throttled key
// does not take the whole gate down.
type KeyRing struct {
	mu   sync.Mutex
	keys []string
	next int
}

// NewKeyRing creates a ring over the given keys.
func NewKeyRing(keys []string) *KeyRing {
	return &KeyRing{keys: keys}
}

// KeyRingFromEnv builds the ring from ANTHROPIC_API_KEYS (comma list),
// falling back to ANTHROPIC_API_KEY, plus any numbered
// ANTHROPIC_API_KEY_1..n entries.
func KeyRingFromEnv() *KeyRing {
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	for _, k := range strings.Split(os.Getenv("ANTHROPIC_API_KEYS"), ",") {
		add(k)
	}
	if len(keys) == 0 {
		add(os.Getenv("ANTHROPIC_API_KEY"))
	}
	for i := 1; ; i++ {
		k := os.Getenv(fmt.Sprintf("ANTHROPIC_API_KEY_%d", i))
		if k == "" {
			break
		}
		add(k)
	}

	return NewKeyRing(keys)
}

// Next returns the next key in the rotation, or "" when the ring is empty.
func (r *KeyRing) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	key := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return key
}

// Len returns the number of keys in the ring.
func (r *KeyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
