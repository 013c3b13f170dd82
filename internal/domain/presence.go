package domain

import "time"

// PresenceRecord is the last heartbeat seen for a user
type PresenceRecord struct {
	UserID          string    `json:"userId"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// OnlineWithin reports whether the heartbeat is no older than window at now
func (p PresenceRecord) OnlineWithin(now time.Time, window time.Duration) bool {
	if p.LastHeartbeatAt.IsZero() {
		return false
	}
	return now.Sub(p.LastHeartbeatAt) <= window
}

// StatusBatchRequest asks for the online flag of several users
type StatusBatchRequest struct {
	UserIDs []string `json:"userIds" binding:"required,max=500"`
}

// StatusResponse is the single-user presence answer
type StatusResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}
