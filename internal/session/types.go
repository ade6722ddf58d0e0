package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/llm"
)

// Session represents a conversation stored in the database.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary,omitempty"` // First user message
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Session metrics
	UserTurns    int `json:"user_turns,omitempty"`   // Number of user messages
	LLMTurns     int `json:"llm_turns,omitempty"`    // Number of model round-trips
	ToolCalls    int `json:"tool_calls,omitempty"`   // Total tool executions
	InputTokens  int `json:"input_tokens,omitempty"` // Total input tokens used
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Message represents a message in a session. The Parts field stores the full
// llm.Message.Parts as JSON to preserve tool calls and results exactly.
type Message struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	Role        llm.Role   `json:"role"`
	Parts       []llm.Part `json:"parts"`
	TextContent string     `json:"text_content"` // Extracted text for display
	CreatedAt   time.Time  `json:"created_at"`
	Sequence    int        `json:"sequence"`
}

// Metrics holds counter deltas applied by Store.UpdateMetrics.
type Metrics struct {
	UserTurns    int
	LLMTurns     int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewID generates a new session ID.
func NewID() string {
	return uuid.NewString()
}

// FromLLMMessage converts an llm.Message for storage.
func FromLLMMessage(sessionID string, msg llm.Message) *Message {
	return &Message{
		SessionID:   sessionID,
		Role:        msg.Role,
		Parts:       msg.Parts,
		TextContent: msg.Text(),
	}
}

// ToLLMMessage converts a stored message back to an llm.Message.
func (m *Message) ToLLMMessage() llm.Message {
	return llm.Message{Role: m.Role, Parts: m.Parts}
}
