package server

import (
	"context"
	"encoding/json"

	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"go.uber.org/zap"
)

// Handler for when a turn has been durably applied: idle lobby views learn
// about the new turn order and recency through the presence bus.
func (s *server) handleTurnApplied(coordinator *Coordinator, _ entities.TurnSnapshot) {
	err := s.bus.Publish(context.Background(), entities.PresenceMessage{
		Topic:      entities.TopicSessionsUpdated,
		UserIds:    coordinator.session.PlayerIds(),
		SessionIds: []string{coordinator.id},
	})
	if err != nil {
		logging.Error("failed to publish turn update",
			zap.String("session_id", coordinator.id),
			zap.Error(err),
		)
	}
}

// Handler for when a session ends. The game-over record is already durable;
// this path only fans out.
func (s *server) handleEndGame(coordinator *Coordinator, record entities.GameOverRecord) {
	ctx := context.Background()
	playerIds := coordinator.session.PlayerIds()

	err := s.bus.Publish(ctx, entities.PresenceMessage{
		Topic:      entities.TopicSessionsUpdated,
		UserIds:    playerIds,
		SessionIds: []string{coordinator.id},
	})
	if err != nil {
		logging.Error("failed to publish game over",
			zap.String("session_id", coordinator.id),
			zap.Error(err),
		)
	}

	if err := s.notifier.NotifyGameOver(ctx, playerIds, coordinator.id, record); err != nil {
		logging.Error("failed to notify game over",
			zap.String("session_id", coordinator.id),
			zap.Error(err),
		)
	}
	logging.Info("game ended", zap.String("session_id", coordinator.id))
}

func (s *server) handleDispose(coordinator *Coordinator) {
	s.removeCoordinator(coordinator.id)
}

func (s *server) handlePlayerJoin(coordinator *Coordinator, cl *client, session entities.Session) {
	coordinator.addClient(cl)
	if err := cl.writeJSON(sessionStateFor(session)); err != nil {
		logging.Error("failed to send session state", zap.String("player_id", cl.playerId))
	}
	logging.Info("player connected",
		zap.String("player_id", cl.playerId),
		zap.String("session_id", coordinator.id),
	)
}

// Handler for when a connection closes. Session state is untouched; only the
// in-memory instance may be disposed once nobody is left.
func (s *server) handlePlayerDisconnect(coordinator *Coordinator, cl *client) {
	if coordinator.removeClient(cl) {
		logging.Info("last client disconnected", zap.String("session_id", coordinator.id))
		if !coordinator.isEnded() {
			coordinator.end()
		}
		return
	}
	logging.Info("player disconnected",
		zap.String("session_id", coordinator.id),
		zap.String("player_id", cl.playerId),
	)
}

// Handler for when a client sends a message on the session channel.
func (s *server) handleSessionMessage(coordinator *Coordinator, cl *client, payload payload) {
	switch payload.Type {
	case "chat":
		var chat struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Data, &chat); err != nil {
			cl.writeJSON(errorResponse{Type: "error", Error: ErrStatusValidation})
			return
		}
		coordinator.relayChat(cl, chat.Message)
	case "submit_turn":
		var turn dtos.TurnSubmission
		if err := json.Unmarshal(payload.Data, &turn); err != nil {
			cl.writeJSON(errorResponse{Type: "error", Error: ErrStatusValidation})
			return
		}
		coordinator.submitTurn(cl, turn)
		logging.Info("turn submitted",
			zap.String("session_id", coordinator.id),
			zap.Int("turn_number", turn.TurnNumber),
		)
	case "concede":
		coordinator.submitConcession(cl)
		logging.Info("concession submitted", zap.String("session_id", coordinator.id))
	default:
		logging.Info("invalid payload type:", zap.String("type", payload.Type))
		cl.writeJSON(errorResponse{Type: "error", Error: ErrStatusValidation})
	}
}
