package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/domains/dtos"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []interface{}
	closed   bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) lastError() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if resp, ok := f.messages[i].(errorResponse); ok {
			return resp.Error, true
		}
	}
	return "", false
}

// fakeSessionStore reproduces the guarded writes of the DynamoDB layer. The
// failures counter forces ErrConditionFailed to exercise the retry path.
type fakeSessionStore struct {
	mu       sync.Mutex
	session  entities.Session
	failures int
}

func (f *fakeSessionStore) GetSession(_ context.Context, _ string) (entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeSessionStore) ApplyTurn(_ context.Context, _ string, snapshot entities.TurnSnapshot, activePlayerId string, previousTurn int, lastPlayedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return storage.ErrConditionFailed
	}
	if f.session.Status != entities.StatusPlaying || f.session.TurnNumber != previousTurn {
		return storage.ErrConditionFailed
	}
	f.session.Turns = append(f.session.Turns, snapshot)
	f.session.TurnNumber++
	f.session.ActivePlayerId = activePlayerId
	f.session.LastPlayedAt = lastPlayedAt
	return nil
}

func (f *fakeSessionStore) FinishSession(_ context.Context, _ string, record entities.GameOverRecord, finalSnapshot *entities.TurnSnapshot, previousTurn int, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return storage.ErrConditionFailed
	}
	if f.session.Status != entities.StatusPlaying ||
		f.session.TurnNumber != previousTurn || f.session.GameOver != nil {
		return storage.ErrConditionFailed
	}
	if finalSnapshot != nil {
		f.session.Turns = append(f.session.Turns, *finalSnapshot)
		f.session.TurnNumber++
	}
	f.session.Status = entities.StatusFinished
	f.session.GameOver = &record
	f.session.FinishedAt = &finishedAt
	return nil
}

type coordinatorProbe struct {
	turnsApplied int
	endRecord    *entities.GameOverRecord
	disposed     bool
}

func playingSession() entities.Session {
	factory := game.NewStaticFactory()
	council, _ := factory.StartingFaction("p1", "Council")
	ironclad, _ := factory.StartingFaction("p2", "Ironclad")
	return entities.Session{
		Id: "session-1",
		Slots: []entities.PlayerSlot{
			{PlayerId: "p1", Faction: "Council"},
			{PlayerId: "p2", Faction: "Ironclad"},
		},
		Status:         entities.StatusPlaying,
		TurnNumber:     0,
		ActivePlayerId: "p1",
		Setup: entities.TurnSnapshot{
			Factions: []entities.FactionState{council, ironclad},
			Board:    factory.StartingBoard(),
		},
	}
}

func newTestCoordinator(session entities.Session, store *fakeSessionStore) (*Coordinator, *coordinatorProbe) {
	probe := &coordinatorProbe{}
	coordinator := &Coordinator{
		id:       session.Id,
		session:  session,
		store:    store,
		evaluate: game.EvaluateGameOver,
		clients:  make(map[*client]struct{}),
		submitCh: make(chan submission),
		done:     make(chan struct{}),
		config:   CoordinatorConfig{IdleTimeout: time.Minute},
		turnAppliedHandler: func(_ *Coordinator, _ entities.TurnSnapshot) {
			probe.turnsApplied++
		},
		endGameHandler: func(_ *Coordinator, record entities.GameOverRecord) {
			probe.endRecord = &record
		},
		disposeHandler: func(_ *Coordinator) {
			probe.disposed = true
		},
	}
	return coordinator, probe
}

func turnFrom(session entities.Session) dtos.TurnSubmission {
	snapshot := session.LatestTurn()
	return dtos.TurnSubmission{
		TurnNumber: session.TurnNumber,
		Action: entities.Action{
			Kind:  "basic",
			Class: entities.ActionAttack,
			Actor: entities.Position{X: 1, Y: 1},
		},
		Factions: snapshot.Factions,
		Board:    snapshot.Board,
	}
}

func TestHandleTurnAppliesAndAlternates(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, probe := newTestCoordinator(session, store)

	p1 := newClient(&fakeConn{}, "p1")
	p2 := newClient(&fakeConn{}, "p2")
	coordinator.addClient(p1)
	coordinator.addClient(p2)

	turns := 4
	for i := 0; i < turns; i++ {
		active := p1
		if coordinator.session.ActivePlayerId == "p2" {
			active = p2
		}
		coordinator.handleTurn(submission{client: active, turn: turnFrom(coordinator.session)})
	}

	assert.Equal(t, turns, coordinator.session.TurnNumber)
	assert.Len(t, coordinator.session.Turns, turns)
	assert.Equal(t, turns, probe.turnsApplied)
	assert.Equal(t, "p1", coordinator.session.ActivePlayerId)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, turns, store.session.TurnNumber)
	require.Len(t, store.session.Turns, turns)
	for i, snapshot := range store.session.Turns {
		assert.Equal(t, i, snapshot.TurnNumber)
		assert.Equal(t, i, snapshot.Action.TurnNumber)
	}
}

func TestHandleTurnRejectsNotActivePlayer(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, probe := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p2 := newClient(conn, "p2")
	coordinator.addClient(p2)

	coordinator.handleTurn(submission{client: p2, turn: turnFrom(coordinator.session)})

	status, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, ErrStatusNotActivePlayer, status)
	assert.Equal(t, 0, coordinator.session.TurnNumber)
	assert.Empty(t, coordinator.session.Turns)
	assert.Equal(t, 0, probe.turnsApplied)
}

func TestHandleTurnRejectsStaleTurnNumber(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, _ := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)

	turn := turnFrom(coordinator.session)
	turn.TurnNumber = 7
	coordinator.handleTurn(submission{client: p1, turn: turn})

	status, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, ErrStatusStaleTurn, status)
	assert.Empty(t, coordinator.session.Turns)
}

func TestHandleTurnRejectsMalformedSubmission(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, _ := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)

	turn := turnFrom(coordinator.session)
	turn.Factions = turn.Factions[:1]
	coordinator.handleTurn(submission{client: p1, turn: turn})

	status, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, ErrStatusValidation, status)
	assert.Empty(t, coordinator.session.Turns)
}

func TestHandleTurnRetriesLostGuardOnce(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session, failures: 1}
	coordinator, probe := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)

	coordinator.handleTurn(submission{client: p1, turn: turnFrom(coordinator.session)})

	_, rejected := conn.lastError()
	assert.False(t, rejected)
	assert.Equal(t, 1, coordinator.session.TurnNumber)
	assert.Equal(t, 1, probe.turnsApplied)
}

func TestHandleTurnConflictAfterRetry(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session, failures: 2}
	coordinator, probe := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)

	coordinator.handleTurn(submission{client: p1, turn: turnFrom(coordinator.session)})

	status, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, ErrStatusConflict, status)
	assert.Equal(t, 0, probe.turnsApplied)
}

func TestHandleTurnRealignsAfterRemoteAdvance(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, _ := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)

	turn := turnFrom(coordinator.session)

	// Another process applied a turn after this submission was read.
	remote := store.session
	remote.TurnNumber = 1
	remote.ActivePlayerId = "p2"
	store.session = remote

	coordinator.handleTurn(submission{client: p1, turn: turn})

	status, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, ErrStatusNotActivePlayer, status)
	assert.Equal(t, 1, coordinator.session.TurnNumber)
}

func TestHandleTurnFinishesOnWin(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, probe := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)

	turn := turnFrom(coordinator.session)
	for i := range turn.Factions {
		if turn.Factions[i].PlayerId == "p2" {
			for j := range turn.Factions[i].Crystals {
				turn.Factions[i].Crystals[j].Health = 0
			}
		}
	}
	coordinator.handleTurn(submission{client: p1, turn: turn})

	require.NotNil(t, probe.endRecord)
	assert.Equal(t, entities.WinConditionCrystals, probe.endRecord.Condition)
	assert.Equal(t, "p1", probe.endRecord.WinnerId)
	assert.Equal(t, entities.StatusFinished, coordinator.session.Status)
	assert.True(t, probe.disposed)
	assert.True(t, conn.closed)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, entities.StatusFinished, store.session.Status)
	require.NotNil(t, store.session.GameOver)
	assert.Len(t, store.session.Turns, 1)
}

func TestHandleConcession(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, probe := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p2 := newClient(conn, "p2")
	coordinator.addClient(p2)

	coordinator.handleConcession(submission{client: p2, concede: true})

	require.NotNil(t, probe.endRecord)
	assert.Equal(t, entities.WinConditionConceded, probe.endRecord.Condition)
	assert.Equal(t, "p1", probe.endRecord.WinnerId)
	assert.True(t, probe.disposed)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, entities.StatusFinished, store.session.Status)
	assert.Empty(t, store.session.Turns)
}

func TestEndReleasesPendingSubmissions(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, _ := newTestCoordinator(session, store)

	connA := &fakeConn{}
	connB := &fakeConn{}
	p1 := newClient(connA, "p1")
	p2 := newClient(connB, "p2")
	coordinator.addClient(p1)
	coordinator.addClient(p2)

	// Park two senders on the unbuffered channel, then tear the instance
	// down underneath them. Both must come back rejected, not panic.
	turn := turnFrom(session)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		coordinator.submitTurn(p1, turn)
	}()
	go func() {
		defer wg.Done()
		coordinator.submitConcession(p2)
	}()

	time.Sleep(10 * time.Millisecond)
	coordinator.end()
	wg.Wait()

	for _, conn := range []*fakeConn{connA, connB} {
		status, ok := conn.lastError()
		require.True(t, ok)
		assert.Equal(t, ErrStatusSessionNotPlaying, status)
	}
}

func TestSubmitAfterEndIsRejected(t *testing.T) {
	session := playingSession()
	store := &fakeSessionStore{session: session}
	coordinator, _ := newTestCoordinator(session, store)

	conn := &fakeConn{}
	p1 := newClient(conn, "p1")
	coordinator.addClient(p1)
	coordinator.end()

	coordinator.submitTurn(p1, turnFrom(coordinator.session))

	status, ok := conn.lastError()
	require.True(t, ok)
	assert.Equal(t, ErrStatusSessionNotPlaying, status)
}
