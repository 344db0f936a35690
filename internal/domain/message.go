package domain

// Message is a single role-tagged turn in a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ComposedPrompt is the full conversation sent to the model gateway for one
// request, plus the generation parameters for the call. It embeds
// time-sensitive context (retrieved passages, session emotion) and is never
// reused across requests.
type ComposedPrompt struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}
