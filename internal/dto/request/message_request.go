package request

// SendMessageRequest represents a chat message
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// UpdateMessageRequest represents a chat edit
type UpdateMessageRequest struct {
	Text string `json:"text" binding:"required"`
}
