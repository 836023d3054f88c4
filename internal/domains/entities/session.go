package entities

import "time"

type SessionStatus string

const (
	StatusSearching SessionStatus = "SEARCHING"
	StatusChallenge SessionStatus = "CHALLENGE"
	StatusPlaying   SessionStatus = "PLAYING"
	StatusFinished  SessionStatus = "FINISHED"
	StatusCanceled  SessionStatus = "CANCELED"
)

// CanTransition reports whether the status machine allows moving to the
// given status. Transitions are monotonic; there is no way back.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case StatusSearching:
		return to == StatusChallenge || to == StatusPlaying || to == StatusCanceled
	case StatusChallenge:
		return to == StatusPlaying || to == StatusCanceled
	case StatusPlaying:
		return to == StatusFinished
	default:
		return false
	}
}

func (s SessionStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

// PlayerSlot is one of the two player positions in a session. Username and
// Picture are read-only projections resolved from the account service.
type PlayerSlot struct {
	PlayerId string `dynamodbav:"PlayerId" json:"playerId"`
	Faction  string `dynamodbav:"Faction" json:"faction"`
	Username string `dynamodbav:"Username" json:"username"`
	Picture  string `dynamodbav:"Picture" json:"picture"`
}

type GameOverRecord struct {
	Condition string `dynamodbav:"Condition" json:"condition"`
	WinnerId  string `dynamodbav:"WinnerId" json:"winnerId"`
}

const (
	WinConditionCrystals = "CRYSTALS_DESTROYED"
	WinConditionUnits    = "UNITS_DEFEATED"
	WinConditionConceded = "CONCEDED"
)

type Session struct {
	Id             string          `dynamodbav:"SessionId" json:"sessionId"`
	Slots          []PlayerSlot    `dynamodbav:"Slots" json:"slots"`
	Status         SessionStatus   `dynamodbav:"Status" json:"status"`
	TurnNumber     int             `dynamodbav:"TurnNumber" json:"turnNumber"`
	ActivePlayerId string          `dynamodbav:"ActivePlayerId" json:"activePlayerId"`
	Setup          TurnSnapshot    `dynamodbav:"Setup" json:"setup"`
	Turns          []TurnSnapshot  `dynamodbav:"Turns" json:"turns"`
	GameOver       *GameOverRecord `dynamodbav:"GameOver,omitempty" json:"gameOver,omitempty"`
	Server         string          `dynamodbav:"Server" json:"server"`
	CreatedAt      time.Time       `dynamodbav:"CreatedAt" json:"createdAt"`
	LastPlayedAt   time.Time       `dynamodbav:"LastPlayedAt" json:"lastPlayedAt"`
	FinishedAt     *time.Time      `dynamodbav:"FinishedAt,omitempty" json:"finishedAt,omitempty"`
}

func (s *Session) SlotFor(playerId string) (PlayerSlot, bool) {
	for _, slot := range s.Slots {
		if slot.PlayerId == playerId {
			return slot, true
		}
	}
	return PlayerSlot{}, false
}

func (s *Session) HasPlayer(playerId string) bool {
	_, ok := s.SlotFor(playerId)
	return ok
}

// Opponent returns the slot of the other player. It is only meaningful once
// both slots are filled.
func (s *Session) Opponent(playerId string) (PlayerSlot, bool) {
	for _, slot := range s.Slots {
		if slot.PlayerId != playerId {
			return slot, true
		}
	}
	return PlayerSlot{}, false
}

func (s *Session) PlayerIds() []string {
	ids := make([]string, 0, len(s.Slots))
	for _, slot := range s.Slots {
		ids = append(ids, slot.PlayerId)
	}
	return ids
}

// LatestTurn returns the most recent snapshot, falling back to the seeded
// setup state when no turn has been played yet.
func (s *Session) LatestTurn() TurnSnapshot {
	if len(s.Turns) == 0 {
		return s.Setup
	}
	return s.Turns[len(s.Turns)-1]
}
