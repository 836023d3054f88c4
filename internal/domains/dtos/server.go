package dtos

type ServerStatusResponse struct {
	ActiveSessions int32 `json:"activeSessions"`
	CanAccept      bool  `json:"canAccept"`
	MaxSessions    int32 `json:"maxSessions"`
}
