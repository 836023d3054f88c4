package dtos

import (
	"time"

	"github.com/crystalfall/crystalfall/internal/domains/entities"
)

type CreateSessionRequest struct {
	Faction    string `json:"faction"`
	OpponentId string `json:"opponentId,omitempty"`
}

type JoinSessionRequest struct {
	Faction string `json:"faction"`
}

type TerminateSessionRequest struct {
	Reason string `json:"reason"`
}

const (
	TerminateReasonConceded = "CONCEDED"
	TerminateReasonCanceled = "CANCELED"
)

type PlayerSlotResponse struct {
	PlayerId string `json:"playerId"`
	Faction  string `json:"faction"`
	Username string `json:"username"`
	Picture  string `json:"picture"`
}

// SessionResponse is the summary shape shared by the match-control API and
// the lobby push; it omits the turn history.
type SessionResponse struct {
	SessionId      string                   `json:"sessionId"`
	Status         string                   `json:"status"`
	Slots          []PlayerSlotResponse     `json:"slots"`
	TurnNumber     int                      `json:"turnNumber"`
	ActivePlayerId string                   `json:"activePlayerId,omitempty"`
	GameOver       *entities.GameOverRecord `json:"gameOver,omitempty"`
	Server         string                   `json:"server,omitempty"`
	CreatedAt      time.Time                `json:"createdAt"`
	LastPlayedAt   time.Time                `json:"lastPlayedAt"`
	FinishedAt     *time.Time               `json:"finishedAt,omitempty"`
}

func NewSessionResponse(session entities.Session) SessionResponse {
	slots := make([]PlayerSlotResponse, 0, len(session.Slots))
	for _, slot := range session.Slots {
		slots = append(slots, PlayerSlotResponse{
			PlayerId: slot.PlayerId,
			Faction:  slot.Faction,
			Username: slot.Username,
			Picture:  slot.Picture,
		})
	}
	return SessionResponse{
		SessionId:      session.Id,
		Status:         string(session.Status),
		Slots:          slots,
		TurnNumber:     session.TurnNumber,
		ActivePlayerId: session.ActivePlayerId,
		GameOver:       session.GameOver,
		Server:         session.Server,
		CreatedAt:      session.CreatedAt,
		LastPlayedAt:   session.LastPlayedAt,
		FinishedAt:     session.FinishedAt,
	}
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

func NewSessionListResponse(sessions []entities.Session) SessionListResponse {
	resp := SessionListResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, NewSessionResponse(session))
	}
	return resp
}

type DeleteSessionResponse struct {
	AffectedUserIds []string `json:"affectedUserIds"`
}

// TurnSubmission is the live-channel message a client sends for its turn:
// the turn number it believes is current, the action taken, and the
// resulting faction/board state.
type TurnSubmission struct {
	TurnNumber int                     `json:"turnNumber"`
	Action     entities.Action         `json:"action"`
	Factions   []entities.FactionState `json:"factions"`
	Board      entities.BoardState     `json:"board"`
}
