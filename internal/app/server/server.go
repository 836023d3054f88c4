package server

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/crystalfall/crystalfall/internal/matchmaking"
	"github.com/crystalfall/crystalfall/internal/presence"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionLister serves the lobby's summary queries.
type SessionLister interface {
	ListUserSessions(ctx context.Context, userId string) ([]entities.Session, error)
}

// Dependencies are the collaborators a server needs, constructed once at
// process start and passed in by reference.
type Dependencies struct {
	Store    SessionStore
	Lister   SessionLister
	Bus      presence.Bus
	Notifier matchmaking.Notifier
	Evaluate game.OverFunc
	Keys     map[string]*rsa.PublicKey
}

type server struct {
	address  string
	upgrader websocket.Upgrader

	config       Config
	coordinators sync.Map
	mu           sync.Mutex

	cognitoPublicKeys map[string]*rsa.PublicKey
	store             SessionStore
	lister            SessionLister
	bus               presence.Bus
	notifier          matchmaking.Notifier
	evaluate          game.OverFunc
}

type payload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewServer(cfg Config, deps Dependencies) *server {
	return &server{
		address: "0.0.0.0:" + cfg.Port,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		config:            cfg,
		cognitoPublicKeys: deps.Keys,
		store:             deps.Store,
		lister:            deps.Lister,
		bus:               deps.Bus,
		notifier:          deps.Notifier,
		evaluate:          deps.Evaluate,
	}
}

// Start method    starts the session server
func (s *server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/{sessionId}", s.handleSessionChannel)
	mux.HandleFunc("/lobby", s.handleLobbyChannel)
	mux.HandleFunc("/status", s.handleStatus)
	logging.Info("websocket server started", zap.String("port", s.config.Port))
	return http.ListenAndServe(s.address, mux)
}

// handleStatus reports capacity to the placement client.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var active int32
	s.coordinators.Range(func(_, _ any) bool {
		active++
		return true
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dtos.ServerStatusResponse{
		ActiveSessions: active,
		CanAccept:      active < s.config.MaxSessions,
		MaxSessions:    s.config.MaxSessions,
	})
}

func (s *server) handleSessionChannel(w http.ResponseWriter, r *http.Request) {
	profile, err := s.auth(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(err.Error()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(
			"failed to upgrade connection",
			zap.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	sessionId := r.PathValue("sessionId")
	session, err := s.store.GetSession(r.Context(), sessionId)
	if err != nil {
		logging.Error("failed to load session", zap.String("error", err.Error()))
		return
	}
	if !session.HasPlayer(profile.Id) {
		conn.WriteJSON(errorResponse{Type: "error", Error: ErrStatusNotAuthorized})
		return
	}
	if session.Status != entities.StatusPlaying {
		conn.WriteJSON(errorResponse{Type: "error", Error: ErrStatusSessionNotPlaying})
		return
	}

	coordinator, err := s.loadCoordinator(sessionId, session)
	if err != nil {
		logging.Error("failed to load coordinator", zap.String("error", err.Error()))
		return
	}

	cl := newClient(conn, profile.Id)
	s.handlePlayerJoin(coordinator, cl, session)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handlePlayerDisconnect(coordinator, cl)
			logging.Info(
				"connection closed",
				zap.String("remote_address", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			break
		}

		payload := payload{}
		if err := json.Unmarshal(message, &payload); err != nil {
			cl.writeJSON(errorResponse{Type: "error", Error: ErrStatusValidation})
			continue
		}
		s.handleSessionMessage(coordinator, cl, payload)
	}
}

/*
loadCoordinator method    resolves the live coordinator for a session id.
If no instance is running in this process, a new one is rehydrated from the
store. A different process may own the next rehydration; the conditional
writes keep them consistent.
*/
func (s *server) loadCoordinator(sessionId string, session entities.Session) (*Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, loaded := s.coordinators.Load(sessionId)
	if loaded {
		coordinator, ok := value.(*Coordinator)
		if !ok {
			return nil, ErrFailedToLoadSession
		}
		logging.Info("coordinator resumed", zap.String("session_id", sessionId))
		return coordinator, nil
	}

	coordinator := s.newCoordinator(session)
	s.coordinators.Store(sessionId, coordinator)
	logging.Info("coordinator started", zap.String("session_id", sessionId))
	return coordinator, nil
}

func (s *server) newCoordinator(session entities.Session) *Coordinator {
	coordinator := &Coordinator{
		id:       session.Id,
		session:  session,
		store:    s.store,
		evaluate: s.evaluate,
		clients:  make(map[*client]struct{}),
		submitCh: make(chan submission),
		done:     make(chan struct{}),
		config: CoordinatorConfig{
			IdleTimeout: s.config.IdleTimeout,
		},
		turnAppliedHandler: s.handleTurnApplied,
		endGameHandler:     s.handleEndGame,
		disposeHandler:     s.handleDispose,
	}
	// Dispose the instance if nothing happens for the idle window.
	coordinator.setTimer(s.config.IdleTimeout)
	go coordinator.start()
	return coordinator
}

func (s *server) removeCoordinator(sessionId string) {
	s.coordinators.Delete(sessionId)
}

// sessionStateFor builds the message a client receives right after joining.
func sessionStateFor(session entities.Session) sessionStateResponse {
	return sessionStateResponse{
		Type:     "session_state",
		Session:  dtos.NewSessionResponse(session),
		Snapshot: session.LatestTurn(),
	}
}
