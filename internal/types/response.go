package types

// ChatResponse is the parsed result of a successful chat-completions call.
type ChatResponse struct {
	Text         string `json:"text"`
	StatusCode   int    `json:"status_code"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
