package domain

// HubStats provides statistics about the hub
type HubStats struct {
	Connections          int     `json:"connections"`
	OnlineUsers          int     `json:"online_users"`
	FramesSent           int64   `json:"frames_sent"`
	DeliveryFailures     int64   `json:"delivery_failures"`
	DuplicatesSuppressed int64   `json:"duplicates_suppressed"`
	MessagesPersisted    int64   `json:"messages_persisted"`
	MessagesDeleted      int64   `json:"messages_deleted"`
	Uptime               float64 `json:"uptime_seconds"`
}
