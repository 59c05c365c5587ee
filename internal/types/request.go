package types

// ChatRequest is the chat-completions request body sent to the model
// endpoint. It is built fresh for every turn and never persisted.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`

	// Advisory only; never sent.
	EstimatedTokens int `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
