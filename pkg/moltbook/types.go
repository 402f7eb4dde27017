package moltbook

import "time"

type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Karma       int    `json:"karma"`
	Followers   int    `json:"followers"`
}

type Post struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Submolt   string    `json:"submolt"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Upvotes   int       `json:"upvotes"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	ParentID  string    `json:"parent_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Upvotes   int       `json:"upvotes"`
	CreatedAt time.Time `json:"created_at"`
}

type DMActivity struct {
	HasActivity     bool `json:"has_activity"`
	PendingRequests int  `json:"pending_requests"`
	UnreadMessages  int  `json:"unread_messages"`
}

type DMRequest struct {
	ConversationID string    `json:"conversation_id"`
	FromAgent      string    `json:"from_agent"`
	CreatedAt      time.Time `json:"created_at"`
}

type DMConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	OtherAgent     string `json:"other_agent"`
	UnreadCount    int    `json:"unread_count"`
	LastMessageID  string `json:"last_message_id"`
}

type DMMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type RegisterResult struct {
	APIKey string `json:"api_key"`
	Agent  Agent  `json:"agent"`
}

type SearchResult struct {
	Posts  []Post  `json:"posts"`
	Agents []Agent `json:"agents"`
}
