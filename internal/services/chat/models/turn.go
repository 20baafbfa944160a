package models

// Role attributes a turn to its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Attachment is binary media sent alongside a turn, e.g. an image.
type Attachment struct {
	MimeType string `json:"mime_type" validate:"required"`
	Data     []byte `json:"data" validate:"required"`
}

// Turn is one message of the conversation as sent to a provider.
// Turns are treated as immutable once built.
type Turn struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text}
}
