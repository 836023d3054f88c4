package entities

const (
	TopicSessionsUpdated = "sessions.updated"
	TopicUsersDeleted    = "users.deleted"
)

// PresenceMessage is the payload relayed between processes on the presence
// bus. Delivery is at-least-once; consumers re-fetch authoritative state
// instead of trusting the payload.
type PresenceMessage struct {
	Topic      string   `json:"topic"`
	UserIds    []string `json:"userIds,omitempty"`
	SessionIds []string `json:"sessionIds,omitempty"`
}
