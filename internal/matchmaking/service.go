package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/crystalfall/crystalfall/internal/presence"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"github.com/crystalfall/crystalfall/pkg/utils"
	"go.uber.org/zap"
)

const (
	openSessionFetchLimit = 10
	finishedHistoryLimit  = 5
)

// SessionStore is the durable source of truth. Implementations must make
// FillSlotAndStart, ApplyTurn, FinishSession and DeleteSession conditional
// writes that fail with storage.ErrConditionFailed when the guard is lost.
type SessionStore interface {
	GetSession(ctx context.Context, sessionId string) (entities.Session, error)
	PutSession(ctx context.Context, session entities.Session) error
	FillSlotAndStart(ctx context.Context, session entities.Session, fromStatus entities.SessionStatus) error
	FinishSession(ctx context.Context, sessionId string, record entities.GameOverRecord, finalSnapshot *entities.TurnSnapshot, previousTurn int, finishedAt time.Time) error
	DeleteSession(ctx context.Context, sessionId, playerId string) error
	FetchOpenSessions(ctx context.Context, excludePlayerId string, limit int32) ([]entities.Session, error)
	FetchUserOpenSessions(ctx context.Context, userId string) ([]entities.Session, error)
	FetchUserFinishedSessions(ctx context.Context, userId string, limit int) ([]entities.Session, error)
}

// Notifier fires out-of-band alerts. The core only decides that one fires
// and who receives it.
type Notifier interface {
	NotifyChallenge(ctx context.Context, userId, fromUsername, sessionId string) error
	NotifyGameOver(ctx context.Context, userIds []string, sessionId string, record entities.GameOverRecord) error
}

// ServerLocator resolves the session server that will host a new session.
type ServerLocator interface {
	LocateServer(ctx context.Context) (string, error)
}

// Profile carries the authenticated caller's denormalized display fields,
// extracted from their credential claims.
type Profile struct {
	Id       string
	Username string
	Picture  string
}

type Service struct {
	store    SessionStore
	bus      presence.Bus
	notifier Notifier
	factory  game.Factory
	locator  ServerLocator
}

func NewService(
	store SessionStore,
	bus presence.Bus,
	notifier Notifier,
	factory game.Factory,
	locator ServerLocator,
) *Service {
	return &Service{
		store:    store,
		bus:      bus,
		notifier: notifier,
		factory:  factory,
		locator:  locator,
	}
}

// FindOpenSession returns the oldest SEARCHING session not occupied by the
// player. First searched, first matched.
func (s *Service) FindOpenSession(ctx context.Context, playerId string) (entities.Session, bool, error) {
	sessions, err := s.store.FetchOpenSessions(ctx, playerId, openSessionFetchLimit)
	if err != nil {
		return entities.Session{}, false, fmt.Errorf("failed to fetch open sessions: %w", err)
	}
	if len(sessions) == 0 {
		return entities.Session{}, false, nil
	}
	return sessions[0], true, nil
}

// CreateSession opens a new session with the caller in slot one. A given
// opponent turns it into a direct challenge with slot two reserved; the
// opponent's faction and display fields are filled when they join.
func (s *Service) CreateSession(ctx context.Context, owner Profile, faction, opponentId string) (entities.Session, error) {
	server, err := s.locator.LocateServer(ctx)
	if err != nil {
		return entities.Session{}, fmt.Errorf("%w: %v", ErrNoServer, err)
	}

	now := time.Now()
	session := entities.Session{
		Id:     utils.GenerateUUID(),
		Status: entities.StatusSearching,
		Slots: []entities.PlayerSlot{{
			PlayerId: owner.Id,
			Faction:  faction,
			Username: owner.Username,
			Picture:  owner.Picture,
		}},
		Server:       server,
		CreatedAt:    now,
		LastPlayedAt: now,
	}
	if opponentId != "" {
		session.Status = entities.StatusChallenge
		session.Slots = append(session.Slots, entities.PlayerSlot{PlayerId: opponentId})
	}

	if err := s.store.PutSession(ctx, session); err != nil {
		return entities.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.publishSessionUpdate(ctx, session)

	if opponentId != "" {
		online, err := s.bus.IsOnline(ctx, opponentId)
		if err != nil {
			logging.Error("failed to check opponent presence", zap.Error(err))
		}
		if !online {
			if err := s.notifier.NotifyChallenge(ctx, opponentId, owner.Username, session.Id); err != nil {
				logging.Error("failed to notify challenged opponent",
					zap.String("session_id", session.Id),
					zap.Error(err),
				)
			}
		}
	}
	return session, nil
}

// JoinSession fills the empty slot, seeds both factions and the board, picks
// the first active player and commits the transition to PLAYING. The commit
// is conditional on the slot still being free; the loser of a join race gets
// ErrSessionFull and the winner's slot is never overwritten.
func (s *Service) JoinSession(ctx context.Context, session entities.Session, joiner Profile, faction string) (entities.Session, error) {
	fromStatus := session.Status
	switch fromStatus {
	case entities.StatusSearching:
		if session.HasPlayer(joiner.Id) {
			return entities.Session{}, fmt.Errorf("%w: cannot join own session", ErrInvalidJoin)
		}
		if len(session.Slots) != 1 {
			return entities.Session{}, ErrSessionFull
		}
		session.Slots = append(session.Slots, entities.PlayerSlot{
			PlayerId: joiner.Id,
			Faction:  faction,
			Username: joiner.Username,
			Picture:  joiner.Picture,
		})
	case entities.StatusChallenge:
		if len(session.Slots) != 2 || session.Slots[1].PlayerId != joiner.Id {
			return entities.Session{}, ErrNotAuthorized
		}
		session.Slots[1].Faction = faction
		session.Slots[1].Username = joiner.Username
		session.Slots[1].Picture = joiner.Picture
	default:
		return entities.Session{}, ErrSessionFull
	}

	factions := make([]entities.FactionState, 0, 2)
	for _, slot := range session.Slots {
		state, err := s.factory.StartingFaction(slot.PlayerId, slot.Faction)
		if err != nil {
			return entities.Session{}, fmt.Errorf("failed to seed faction: %w", err)
		}
		factions = append(factions, state)
	}

	session.Setup = entities.TurnSnapshot{
		Factions: factions,
		Board:    s.factory.StartingBoard(),
	}
	session.Turns = nil
	session.TurnNumber = 0
	session.ActivePlayerId = session.Slots[rand.IntN(2)].PlayerId
	session.Status = entities.StatusPlaying
	session.LastPlayedAt = time.Now()

	if err := s.store.FillSlotAndStart(ctx, session, fromStatus); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return entities.Session{}, ErrSessionFull
		}
		return entities.Session{}, fmt.Errorf("failed to join session: %w", err)
	}

	s.publishSessionUpdate(ctx, session)
	logging.Info("session started",
		zap.String("session_id", session.Id),
		zap.String("active_player", session.ActivePlayerId),
	)
	return session, nil
}

// DeleteSession removes an open session and returns the identities whose
// lobby views are affected. Committed matches are history and stay.
func (s *Service) DeleteSession(ctx context.Context, playerId, sessionId string) ([]string, error) {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if !session.HasPlayer(playerId) {
		return nil, ErrNotAuthorized
	}
	// Only statuses that may still be canceled are deletable; a committed
	// match is history.
	if !session.Status.CanTransition(entities.StatusCanceled) {
		return nil, ErrInvalidDeletion
	}

	if err := s.store.DeleteSession(ctx, sessionId, playerId); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			// The session moved on (or away) between read and delete.
			return nil, ErrInvalidDeletion
		}
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}

	affected := session.PlayerIds()
	s.publishSessionUpdate(ctx, session)
	return affected, nil
}

// Concede finishes a PLAYING session in the opponent's favor on behalf of a
// player who gives up through the request/response surface.
func (s *Service) Concede(ctx context.Context, playerId, sessionId string) (entities.GameOverRecord, error) {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return entities.GameOverRecord{}, ErrSessionNotFound
		}
		return entities.GameOverRecord{}, fmt.Errorf("failed to get session: %w", err)
	}
	if !session.HasPlayer(playerId) {
		return entities.GameOverRecord{}, ErrNotAuthorized
	}
	if !session.Status.CanTransition(entities.StatusFinished) {
		return entities.GameOverRecord{}, ErrNotPlaying
	}

	opponent, _ := session.Opponent(playerId)
	record := entities.GameOverRecord{
		Condition: entities.WinConditionConceded,
		WinnerId:  opponent.PlayerId,
	}
	err = s.store.FinishSession(ctx, sessionId, record, nil, session.TurnNumber, time.Now())
	if errors.Is(err, storage.ErrConditionFailed) {
		// A turn landed between read and write; reload and retry once.
		session, err = s.store.GetSession(ctx, sessionId)
		if err != nil {
			return entities.GameOverRecord{}, fmt.Errorf("failed to reload session: %w", err)
		}
		if !session.Status.CanTransition(entities.StatusFinished) {
			return entities.GameOverRecord{}, ErrNotPlaying
		}
		err = s.store.FinishSession(ctx, sessionId, record, nil, session.TurnNumber, time.Now())
	}
	if err != nil {
		return entities.GameOverRecord{}, fmt.Errorf("failed to finish session: %w", err)
	}

	s.publishSessionUpdate(ctx, session)
	if err := s.notifier.NotifyGameOver(ctx, session.PlayerIds(), session.Id, record); err != nil {
		logging.Error("failed to notify game over", zap.String("session_id", session.Id), zap.Error(err))
	}
	return record, nil
}

// ListOpenSessions returns joinable sessions, oldest first.
func (s *Service) ListOpenSessions(ctx context.Context, excludePlayerId string) ([]entities.Session, error) {
	return s.store.FetchOpenSessions(ctx, excludePlayerId, openSessionFetchLimit)
}

// ListUserSessions returns the user's open sessions followed by their five
// most recently finished ones, oldest finished first.
func (s *Service) ListUserSessions(ctx context.Context, userId string) ([]entities.Session, error) {
	open, err := s.store.FetchUserOpenSessions(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open sessions: %w", err)
	}
	finished, err := s.store.FetchUserFinishedSessions(ctx, userId, finishedHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch finished sessions: %w", err)
	}
	// Newest-first from the store; the lobby shows the window oldest first.
	for i, j := 0, len(finished)-1; i < j; i, j = i+1, j-1 {
		finished[i], finished[j] = finished[j], finished[i]
	}
	return append(open, finished...), nil
}

func (s *Service) publishSessionUpdate(ctx context.Context, session entities.Session) {
	err := s.bus.Publish(ctx, entities.PresenceMessage{
		Topic:      entities.TopicSessionsUpdated,
		UserIds:    session.PlayerIds(),
		SessionIds: []string{session.Id},
	})
	if err != nil {
		logging.Error("failed to publish session update",
			zap.String("session_id", session.Id),
			zap.Error(err),
		)
	}
}
