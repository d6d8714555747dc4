package domain

// Message roles. The system prompt is injected server-side and never
// appears in client-held conversations.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered chat log, oldest first.
type Conversation struct {
	Messages []Message
}

// Append adds a turn to the log.
func (c *Conversation) Append(role, content string) {
	c.Messages = append(c.Messages, Message{Role: role, Content: content})
}

// Tail returns the last n messages (the whole log if it is shorter).
// Used to respect payload limits of the chat and submission endpoints.
func (c *Conversation) Tail(n int) []Message {
	if n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// LastAssistant returns the content of the most recent assistant turn,
// or "" if there is none.
func (c *Conversation) LastAssistant() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i].Content
		}
	}
	return ""
}

// LastAssistantOf is LastAssistant over a bare message slice.
func LastAssistantOf(msgs []Message) string {
	c := Conversation{Messages: msgs}
	return c.LastAssistant()
}
