package types

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message exchanged in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserTurn(text string) Turn      { return Turn{Role: RoleUser, Text: text} }
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }
func SystemTurn(text string) Turn    { return Turn{Role: RoleSystem, Text: text} }

// Message converts the turn to its chat-completions wire shape.
func (t Turn) Message() Message {
	return Message{Role: string(t.Role), Content: t.Text}
}
