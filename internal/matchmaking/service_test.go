package matchmaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crystalfall/crystalfall/internal/aws/storage"
	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore mirrors the conditional-write behavior of the DynamoDB layer:
// guarded writes fail with storage.ErrConditionFailed when the stored row no
// longer satisfies the guard.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]entities.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]entities.Session)}
}

func (f *fakeStore) GetSession(_ context.Context, sessionId string) (entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionId]
	if !ok {
		return entities.Session{}, storage.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeStore) PutSession(_ context.Context, session entities.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.sessions[session.Id]; exists {
		return storage.ErrConditionFailed
	}
	f.sessions[session.Id] = session
	return nil
}

func (f *fakeStore) FillSlotAndStart(_ context.Context, session entities.Session, fromStatus entities.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[session.Id]
	if !ok || stored.Status != fromStatus {
		return storage.ErrConditionFailed
	}
	if fromStatus == entities.StatusSearching && len(stored.Slots) != 1 {
		return storage.ErrConditionFailed
	}
	f.sessions[session.Id] = session
	return nil
}

func (f *fakeStore) FinishSession(_ context.Context, sessionId string, record entities.GameOverRecord, finalSnapshot *entities.TurnSnapshot, previousTurn int, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[sessionId]
	if !ok || stored.Status != entities.StatusPlaying ||
		stored.TurnNumber != previousTurn || stored.GameOver != nil {
		return storage.ErrConditionFailed
	}
	stored.Status = entities.StatusFinished
	stored.GameOver = &record
	stored.FinishedAt = &finishedAt
	if finalSnapshot != nil {
		stored.Turns = append(stored.Turns, *finalSnapshot)
		stored.TurnNumber++
	}
	f.sessions[sessionId] = stored
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, sessionId, playerId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[sessionId]
	if !ok {
		return storage.ErrConditionFailed
	}
	open := stored.Status == entities.StatusSearching || stored.Status == entities.StatusChallenge
	if !open || !stored.HasPlayer(playerId) {
		return storage.ErrConditionFailed
	}
	delete(f.sessions, sessionId)
	return nil
}

func (f *fakeStore) FetchOpenSessions(_ context.Context, excludePlayerId string, limit int32) ([]entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []entities.Session
	for _, session := range f.sessions {
		if session.Status == entities.StatusSearching && !session.HasPlayer(excludePlayerId) {
			open = append(open, session)
		}
	}
	return open, nil
}

func (f *fakeStore) FetchUserOpenSessions(_ context.Context, userId string) ([]entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []entities.Session
	for _, session := range f.sessions {
		if !session.Status.Terminal() && session.HasPlayer(userId) {
			open = append(open, session)
		}
	}
	return open, nil
}

func (f *fakeStore) FetchUserFinishedSessions(_ context.Context, userId string, limit int) ([]entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var finished []entities.Session
	for _, session := range f.sessions {
		if session.Status == entities.StatusFinished && session.HasPlayer(userId) {
			finished = append(finished, session)
		}
	}
	if len(finished) > limit {
		finished = finished[:limit]
	}
	return finished, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []entities.PresenceMessage
	online    map[string]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{online: make(map[string]bool)}
}

func (f *fakeBus) Publish(_ context.Context, msg entities.PresenceMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, _ string) (<-chan entities.PresenceMessage, func()) {
	ch := make(chan entities.PresenceMessage)
	return ch, func() { close(ch) }
}

func (f *fakeBus) MarkOnline(_ context.Context, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userId] = true
	return nil
}

func (f *fakeBus) MarkOffline(_ context.Context, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userId)
	return nil
}

func (f *fakeBus) IsOnline(_ context.Context, userId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userId], nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	challenges []string
	gameOvers  []string
}

func (f *fakeNotifier) NotifyChallenge(_ context.Context, userId, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges = append(f.challenges, userId)
	return nil
}

func (f *fakeNotifier) NotifyGameOver(_ context.Context, userIds []string, _ string, _ entities.GameOverRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameOvers = append(f.gameOvers, userIds...)
	return nil
}

type fakeLocator struct{ ip string }

func (f fakeLocator) LocateServer(_ context.Context) (string, error) {
	return f.ip, nil
}

func newTestService() (*Service, *fakeStore, *fakeBus, *fakeNotifier) {
	store := newFakeStore()
	bus := newFakeBus()
	notifier := &fakeNotifier{}
	svc := NewService(store, bus, notifier, game.NewStaticFactory(), fakeLocator{ip: "10.0.0.1"})
	return svc, store, bus, notifier
}

func TestCreateSessionSearching(t *testing.T) {
	svc, store, bus, _ := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)

	assert.Equal(t, entities.StatusSearching, session.Status)
	require.Len(t, session.Slots, 1)
	assert.Equal(t, "p1", session.Slots[0].PlayerId)
	assert.Equal(t, "10.0.0.1", session.Server)

	stored, err := store.GetSession(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, session.Id, stored.Id)

	require.Len(t, bus.published, 1)
	assert.Equal(t, entities.TopicSessionsUpdated, bus.published[0].Topic)
}

func TestCreateChallengeNotifiesOfflineOpponent(t *testing.T) {
	svc, _, _, notifier := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "p2")
	require.NoError(t, err)

	assert.Equal(t, entities.StatusChallenge, session.Status)
	require.Len(t, session.Slots, 2)
	assert.Equal(t, "p2", session.Slots[1].PlayerId)
	assert.Equal(t, []string{"p2"}, notifier.challenges)
}

func TestCreateChallengeSkipsOnlineOpponent(t *testing.T) {
	svc, _, bus, notifier := newTestService()
	ctx := context.Background()
	require.NoError(t, bus.MarkOnline(ctx, "p2"))

	_, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "p2")
	require.NoError(t, err)
	assert.Empty(t, notifier.challenges)
}

func TestJoinSessionStartsPlay(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)

	session, err := svc.JoinSession(ctx, open, Profile{Id: "p2", Username: "bob"}, "Ironclad")
	require.NoError(t, err)

	assert.Equal(t, entities.StatusPlaying, session.Status)
	require.Len(t, session.Slots, 2)
	assert.Equal(t, 0, session.TurnNumber)
	assert.Empty(t, session.Turns)
	assert.Contains(t, session.PlayerIds(), session.ActivePlayerId)

	require.Len(t, session.Setup.Factions, 2)
	for _, faction := range session.Setup.Factions {
		assert.Len(t, faction.Hand, game.StartingHandSize)
	}
	assert.Equal(t, 9, session.Setup.Board.Width)

	stored, err := store.GetSession(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusPlaying, stored.Status)
}

func TestJoinSessionRaceHasOneWinner(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)

	// Both joiners read the same SEARCHING snapshot.
	_, err = svc.JoinSession(ctx, open, Profile{Id: "p2"}, "Ironclad")
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, open, Profile{Id: "p3"}, "Dark Elves")
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestJoinOwnSession(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, open, Profile{Id: "p1"}, "Ironclad")
	assert.ErrorIs(t, err, ErrInvalidJoin)
}

func TestJoinChallengeRequiresInvitedPlayer(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	challenge, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "p2")
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, challenge, Profile{Id: "p3"}, "Ironclad")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	joined, err := svc.JoinSession(ctx, challenge, Profile{Id: "p2", Username: "bob"}, "Ironclad")
	require.NoError(t, err)
	assert.Equal(t, entities.StatusPlaying, joined.Status)
	assert.Equal(t, "Ironclad", joined.Slots[1].Faction)
}

func TestDeleteSessionRules(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)

	_, err = svc.DeleteSession(ctx, "p2", open.Id)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.DeleteSession(ctx, "p1", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	affected, err := svc.DeleteSession(ctx, "p1", open.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, affected)

	_, err = store.GetSession(ctx, open.Id)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestDeleteCommittedSession(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)
	session, err := svc.JoinSession(ctx, open, Profile{Id: "p2"}, "Ironclad")
	require.NoError(t, err)

	_, err = svc.DeleteSession(ctx, "p1", session.Id)
	assert.ErrorIs(t, err, ErrInvalidDeletion)
}

func TestConcede(t *testing.T) {
	svc, store, _, notifier := newTestService()
	ctx := context.Background()

	open, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)
	session, err := svc.JoinSession(ctx, open, Profile{Id: "p2"}, "Ironclad")
	require.NoError(t, err)

	record, err := svc.Concede(ctx, "p2", session.Id)
	require.NoError(t, err)
	assert.Equal(t, entities.WinConditionConceded, record.Condition)
	assert.Equal(t, "p1", record.WinnerId)

	stored, err := store.GetSession(ctx, session.Id)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusFinished, stored.Status)
	require.NotNil(t, stored.GameOver)
	assert.ElementsMatch(t, []string{"p1", "p2"}, notifier.gameOvers)

	// A finished session cannot be conceded again.
	_, err = svc.Concede(ctx, "p1", session.Id)
	assert.ErrorIs(t, err, ErrNotPlaying)
}

func TestFindOpenSessionExcludesOwn(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, Profile{Id: "p1", Username: "alice"}, "Council", "")
	require.NoError(t, err)

	_, found, err := svc.FindOpenSession(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, found)

	session, found, err := svc.FindOpenSession(ctx, "p2")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, session.HasPlayer("p1"))
}
