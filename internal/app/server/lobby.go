package server

import (
	"context"
	"net/http"
	"slices"

	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"go.uber.org/zap"
)

type sessionListUpdate struct {
	Type     string                   `json:"type"`
	Sessions dtos.SessionListResponse `json:"sessions"`
}

// handleLobbyChannel serves one idle client: it marks them online, pushes
// their current session list, then re-pushes whenever a presence event names
// them. The payload is never trusted as state; the store is re-queried.
func (s *server) handleLobbyChannel(w http.ResponseWriter, r *http.Request) {
	profile, err := s.auth(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(err.Error()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("failed to upgrade connection", zap.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cl := newClient(conn, profile.Id)
	if err := s.bus.MarkOnline(ctx, profile.Id); err != nil {
		logging.Error("failed to mark online", zap.String("user_id", profile.Id), zap.Error(err))
	}
	defer func() {
		if err := s.bus.MarkOffline(context.Background(), profile.Id); err != nil {
			logging.Error("failed to mark offline", zap.String("user_id", profile.Id), zap.Error(err))
		}
	}()

	updates, unsubUpdates := s.bus.Subscribe(ctx, entities.TopicSessionsUpdated)
	defer unsubUpdates()
	// Account deletions remove sessions out from under their opponents;
	// those lobby views refresh the same way.
	deletions, unsubDeletions := s.bus.Subscribe(ctx, entities.TopicUsersDeleted)
	defer unsubDeletions()

	s.pushSessionList(ctx, cl)
	refresh := func(events <-chan entities.PresenceMessage) {
		for msg := range events {
			if !slices.Contains(msg.UserIds, cl.playerId) {
				continue
			}
			s.pushSessionList(ctx, cl)
		}
	}
	go refresh(updates)
	go refresh(deletions)

	logging.Info("lobby client connected", zap.String("user_id", profile.Id))
	// No client-initiated messages; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logging.Info("lobby client disconnected", zap.String("user_id", profile.Id))
			return
		}
	}
}

func (s *server) pushSessionList(ctx context.Context, cl *client) {
	sessions, err := s.lister.ListUserSessions(ctx, cl.playerId)
	if err != nil {
		logging.Error("failed to list sessions",
			zap.String("user_id", cl.playerId),
			zap.Error(err),
		)
		return
	}
	err = cl.writeJSON(sessionListUpdate{
		Type:     "session_list_updated",
		Sessions: dtos.NewSessionListResponse(sessions),
	})
	if err != nil {
		logging.Error("failed to push session list", zap.String("user_id", cl.playerId))
	}
}
