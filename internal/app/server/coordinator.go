package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"go.uber.org/zap"
)

// SessionStore is the slice of the session repository the live server needs.
// Every mutation is a guarded conditional write; a lost guard surfaces as
// storage.ErrConditionFailed.
type SessionStore interface {
	GetSession(ctx context.Context, sessionId string) (entities.Session, error)
	ApplyTurn(ctx context.Context, sessionId string, snapshot entities.TurnSnapshot, activePlayerId string, previousTurn int, lastPlayedAt time.Time) error
	FinishSession(ctx context.Context, sessionId string, record entities.GameOverRecord, finalSnapshot *entities.TurnSnapshot, previousTurn int, finishedAt time.Time) error
}

// Coordinator is the live authority for one session. Submissions are
// serialized through a channel; the in-memory copy only advances after the
// durable conditional write succeeds, so it can never run ahead of the store.
type Coordinator struct {
	id      string
	session entities.Session

	store    SessionStore
	evaluate game.OverFunc

	clients  map[*client]struct{}
	submitCh chan submission
	done     chan struct{}
	timer    *time.Timer
	config   CoordinatorConfig

	turnAppliedHandler func(*Coordinator, entities.TurnSnapshot)
	endGameHandler     func(*Coordinator, entities.GameOverRecord)
	disposeHandler     func(*Coordinator)

	ended bool
	mu    sync.Mutex
}

type CoordinatorConfig struct {
	IdleTimeout time.Duration
}

type submission struct {
	client  *client
	turn    dtos.TurnSubmission
	concede bool
}

type sessionStateResponse struct {
	Type     string                `json:"type"`
	Session  dtos.SessionResponse  `json:"session"`
	Snapshot entities.TurnSnapshot `json:"snapshot"`
}

type turnAppliedResponse struct {
	Type           string                `json:"type"`
	Snapshot       entities.TurnSnapshot `json:"snapshot"`
	TurnNumber     int                   `json:"turnNumber"`
	ActivePlayerId string                `json:"activePlayerId"`
}

type gameOverResponse struct {
	Type     string                  `json:"type"`
	Record   entities.GameOverRecord `json:"record"`
	Snapshot *entities.TurnSnapshot  `json:"snapshot,omitempty"`
}

type chatResponse struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (c *Coordinator) start() {
	for {
		select {
		case <-c.done:
			return
		case sub := <-c.submitCh:
			if c.isEnded() {
				c.reject(sub.client, ErrStatusSessionNotPlaying)
				continue
			}
			if sub.concede {
				c.handleConcession(sub)
			} else {
				c.handleTurn(sub)
			}
		}
	}
}

// submitTurn hands the submission to the session loop. submitCh is never
// closed; a sender racing the teardown falls through to done and gets a
// rejection instead of blocking on a loop that no longer receives.
func (c *Coordinator) submitTurn(cl *client, turn dtos.TurnSubmission) {
	select {
	case c.submitCh <- submission{client: cl, turn: turn}:
	case <-c.done:
		c.reject(cl, ErrStatusSessionNotPlaying)
	}
}

func (c *Coordinator) submitConcession(cl *client) {
	select {
	case c.submitCh <- submission{client: cl, concede: true}:
	case <-c.done:
		c.reject(cl, ErrStatusSessionNotPlaying)
	}
}

// handleTurn runs the turn protocol: reject out-of-band submissions, apply
// the snapshot with a turn-number CAS, and broadcast on success. A lost CAS
// is retried once after reloading the durable copy.
func (c *Coordinator) handleTurn(sub submission) {
	ctx := context.Background()

	for attempt := 0; ; attempt++ {
		if status := c.rejectReason(sub); status != "" {
			c.reject(sub.client, status)
			return
		}

		snapshot := entities.TurnSnapshot{
			TurnNumber: c.session.TurnNumber,
			Factions:   sub.turn.Factions,
			Board:      sub.turn.Board,
			Action:     sub.turn.Action,
		}
		snapshot.Action.TurnNumber = c.session.TurnNumber

		opponent, _ := c.session.Opponent(sub.client.playerId)
		record := c.evaluate(snapshot)

		var err error
		now := time.Now()
		if record != nil {
			err = c.store.FinishSession(ctx, c.id, *record, &snapshot, c.session.TurnNumber, now)
		} else {
			err = c.store.ApplyTurn(ctx, c.id, snapshot, opponent.PlayerId, c.session.TurnNumber, now)
		}
		if err == nil {
			c.session.Turns = append(c.session.Turns, snapshot)
			c.session.TurnNumber++
			c.session.ActivePlayerId = opponent.PlayerId
			c.session.LastPlayedAt = now
			c.broadcast(turnAppliedResponse{
				Type:           "turn_applied",
				Snapshot:       snapshot,
				TurnNumber:     c.session.TurnNumber,
				ActivePlayerId: c.session.ActivePlayerId,
			})
			if record != nil {
				c.finish(*record, &snapshot)
				return
			}
			c.setTimer(c.config.IdleTimeout)
			c.turnAppliedHandler(c, snapshot)
			return
		}

		if !errors.Is(err, storage.ErrConditionFailed) {
			logging.Error("failed to persist turn",
				zap.String("session_id", c.id),
				zap.Error(err),
			)
			c.reject(sub.client, ErrStatusPersistence)
			return
		}
		if attempt == 1 {
			c.reject(sub.client, ErrStatusConflict)
			return
		}
		// Another process advanced the session; realign and re-validate.
		fresh, err := c.store.GetSession(ctx, c.id)
		if err != nil {
			logging.Error("failed to reload session",
				zap.String("session_id", c.id),
				zap.Error(err),
			)
			c.reject(sub.client, ErrStatusPersistence)
			return
		}
		c.session = fresh
	}
}

// rejectReason validates a submission against the in-memory copy. An empty
// string means the turn may be attempted.
func (c *Coordinator) rejectReason(sub submission) string {
	if c.session.Status != entities.StatusPlaying {
		return ErrStatusSessionNotPlaying
	}
	if sub.client.playerId != c.session.ActivePlayerId {
		return ErrStatusNotActivePlayer
	}
	if sub.turn.TurnNumber != c.session.TurnNumber {
		return ErrStatusStaleTurn
	}
	if err := validateSubmission(&c.session, sub.turn); err != nil {
		return ErrStatusValidation
	}
	return ""
}

func (c *Coordinator) handleConcession(sub submission) {
	ctx := context.Background()

	if c.session.Status != entities.StatusPlaying {
		c.reject(sub.client, ErrStatusSessionNotPlaying)
		return
	}
	opponent, _ := c.session.Opponent(sub.client.playerId)
	record := entities.GameOverRecord{
		Condition: entities.WinConditionConceded,
		WinnerId:  opponent.PlayerId,
	}

	err := c.store.FinishSession(ctx, c.id, record, nil, c.session.TurnNumber, time.Now())
	if errors.Is(err, storage.ErrConditionFailed) {
		fresh, gerr := c.store.GetSession(ctx, c.id)
		if gerr != nil {
			c.reject(sub.client, ErrStatusPersistence)
			return
		}
		c.session = fresh
		if c.session.Status != entities.StatusPlaying {
			c.reject(sub.client, ErrStatusSessionNotPlaying)
			return
		}
		err = c.store.FinishSession(ctx, c.id, record, nil, c.session.TurnNumber, time.Now())
	}
	if err != nil {
		logging.Error("failed to persist concession",
			zap.String("session_id", c.id),
			zap.Error(err),
		)
		c.reject(sub.client, ErrStatusPersistence)
		return
	}
	c.finish(record, nil)
}

// finish moves the in-memory copy to FINISHED and tears the instance down.
// The durable write has already happened.
func (c *Coordinator) finish(record entities.GameOverRecord, snapshot *entities.TurnSnapshot) {
	now := time.Now()
	c.session.Status = entities.StatusFinished
	c.session.GameOver = &record
	c.session.FinishedAt = &now
	c.broadcast(gameOverResponse{
		Type:     "game_over",
		Record:   record,
		Snapshot: snapshot,
	})
	logging.Info("session finished",
		zap.String("session_id", c.id),
		zap.String("winner_id", record.WinnerId),
		zap.String("condition", record.Condition),
	)
	c.endGameHandler(c, record)
	c.end()
}

func validateSubmission(session *entities.Session, turn dtos.TurnSubmission) error {
	if len(turn.Factions) != 2 {
		return fmt.Errorf("expected 2 faction states, got %d", len(turn.Factions))
	}
	for _, faction := range turn.Factions {
		if !session.HasPlayer(faction.PlayerId) {
			return fmt.Errorf("faction state for non-member %s", faction.PlayerId)
		}
	}
	if turn.Factions[0].PlayerId == turn.Factions[1].PlayerId {
		return fmt.Errorf("duplicate faction state for %s", turn.Factions[0].PlayerId)
	}
	switch turn.Action.Class {
	case entities.ActionAttack, entities.ActionHeal, entities.ActionShuffle,
		entities.ActionMove, entities.ActionSummon:
	default:
		return fmt.Errorf("unknown action class %q", turn.Action.Class)
	}
	if turn.Board.Width <= 0 || turn.Board.Height <= 0 {
		return fmt.Errorf("invalid board dimensions")
	}
	return nil
}

func (c *Coordinator) reject(cl *client, status string) {
	if err := cl.writeJSON(errorResponse{Type: "error", Error: status}); err != nil {
		logging.Error("couldn't deliver rejection",
			zap.String("player_id", cl.playerId),
			zap.String("status", status),
		)
	}
}

func (c *Coordinator) broadcast(msg interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cl := range c.clients {
		if err := cl.writeJSON(msg); err != nil {
			logging.Error("couldn't notify client",
				zap.String("player_id", cl.playerId),
				zap.Error(err),
			)
		}
	}
}

func (c *Coordinator) addClient(cl *client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[cl] = struct{}{}
}

// removeClient drops a connection; when the last one goes the instance is
// disposed. Disposal never mutates durable state, a reconnect rehydrates
// from the store.
func (c *Coordinator) removeClient(cl *client) (empty bool) {
	c.mu.Lock()
	delete(c.clients, cl)
	empty = len(c.clients) == 0
	c.mu.Unlock()
	return empty
}

func (c *Coordinator) relayChat(from *client, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cl := range c.clients {
		if cl == from {
			continue
		}
		if err := cl.writeJSON(chatResponse{Type: "chat", From: from.playerId, Message: message}); err != nil {
			logging.Error("couldn't relay chat", zap.String("player_id", cl.playerId))
		}
	}
}

func (c *Coordinator) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	close(c.done)
	c.skipTimer()
	for cl := range c.clients {
		cl.close()
	}
	c.disposeHandler(c)
}

func (c *Coordinator) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// setTimer method    set the timer to the specified duration before disposing the idle instance
func (c *Coordinator) setTimer(d time.Duration) {
	if c.timer != nil {
		c.timer.Reset(d)
		return
	}
	c.timer = time.NewTimer(d)
	go func() {
		<-c.timer.C
		logging.Info("idle coordinator disposed", zap.String("session_id", c.id))
		c.end()
	}()
}

// skipTimer method    skips timer by set timer to 0 duration timeout
func (c *Coordinator) skipTimer() {
	if c.timer == nil {
		return
	}
	c.timer.Reset(0)
}
