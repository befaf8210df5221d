package lobby

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/arena/internal/hub"
	"github.com/jason-s-yu/arena/internal/lobby/lobbytest"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) (*Registry, *lobbytest.MemoryStore, *lobbytest.Recorder) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := lobbytest.NewMemoryStore()
	for i := int64(1); i <= 10; i++ {
		store.AddUser(i, fmt.Sprintf("user%d", i))
	}
	store.AddDeck(10, 1, "Aggro")
	store.AddDeck(11, 2, "Control")
	store.AddDeck(12, 0, "Starter")
	store.AddCharacter(20, "Knight")
	store.AddMap(5, "Volcano")

	rec := &lobbytest.Recorder{}
	return NewRegistry(store, store, rec, logger, 200*time.Millisecond), store, rec
}

func createOpen(t *testing.T, r *Registry, host int64) models.LobbyView {
	t.Helper()
	v, err := r.CreateLobby(context.Background(), CreateParams{HostID: host, Name: "Arena"})
	require.NoError(t, err)
	return v
}

// chooseLoadouts gives user 1 deck 10 and user 2 deck 11, both with character 20.
func chooseLoadouts(t *testing.T, r *Registry, lobbyID int64) {
	t.Helper()
	char := int64(20)
	for user, deck := range map[int64]int64{1: 10, 2: 11} {
		_, err := r.UpdateSelections(context.Background(), SelectionUpdate{LobbyID: lobbyID, UserID: user, DeckID: &deck, CharacterID: &char})
		require.NoError(t, err)
	}
}

func listIDs(t *testing.T, ev hub.Event) []int64 {
	t.Helper()
	views, ok := ev.Payload.([]models.LobbyView)
	require.True(t, ok, "list payload should be []LobbyView, got %T", ev.Payload)
	ids := make([]int64, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestCreateLobby(t *testing.T) {
	r, store, rec := setupRegistry(t)
	ctx := context.Background()

	v := createOpen(t, r, 1)
	assert.Equal(t, "Arena", v.LobbyName)
	assert.Equal(t, models.StatusWaiting, v.Status)
	assert.EqualValues(t, 1, v.Player1ID)
	assert.Equal(t, "user1", v.Player1Name)
	assert.Nil(t, v.Player2ID)

	_, persisted := store.Persisted(v.ID)
	assert.True(t, persisted)

	last, ok := rec.Last(hub.LobbyListTopic)
	require.True(t, ok)
	assert.Equal(t, []int64{v.ID}, listIDs(t, last))

	unnamed, err := r.CreateLobby(ctx, CreateParams{HostID: 2})
	require.NoError(t, err)
	assert.Equal(t, DefaultLobbyName, unnamed.LobbyName)

	_, err = r.CreateLobby(ctx, CreateParams{HostID: 99, Name: "ghost"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.CreateLobby(ctx, CreateParams{HostID: 3, IsPrivate: true})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	assert.Len(t, r.ListLobbies(), 2)
}

func TestCreatePrivateLobbyHidesPassword(t *testing.T) {
	r, store, _ := setupRegistry(t)
	v, err := r.CreateLobby(context.Background(), CreateParams{HostID: 1, Name: "secret", IsPrivate: true, Password: "pw"})
	require.NoError(t, err)
	assert.True(t, v.IsPrivate)

	l, ok := store.Persisted(v.ID)
	require.True(t, ok)
	assert.NotEqual(t, "pw", l.PasswordHash)
	assert.Contains(t, l.PasswordHash, "$argon2id$")
}

func TestJoinLobby(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	rec.Reset()

	joined, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	require.NotNil(t, joined.Player2ID)
	assert.EqualValues(t, 2, *joined.Player2ID)
	assert.Equal(t, "user2", joined.Player2Name)

	// view before list, both after commit
	evs := rec.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, hub.LobbyTopic(v.ID), evs[0].Topic)
	assert.Equal(t, hub.TypeLobbyUpdate, evs[0].Type)
	assert.Equal(t, hub.LobbyListTopic, evs[1].Topic)

	_, err = r.JoinLobby(ctx, 999, 2, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJoinRejectedLeavesStateUnchanged(t *testing.T) {
	r, store, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	rec.Reset()

	_, err = r.JoinLobby(ctx, v.ID, 3, "")
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Player2ID)
	assert.EqualValues(t, 2, *got.Player2ID)

	persisted, _ := store.Persisted(v.ID)
	assert.EqualValues(t, 2, persisted.Player2.UserID)
	assert.Empty(t, rec.Events(), "a rejected join must not broadcast")
}

func TestJoinGuards(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 1, "")
	assert.ErrorIs(t, err, models.ErrConflict, "host cannot join twice")

	_, err = r.JoinLobby(ctx, v.ID, 99, "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = r.StartGame(ctx, v.ID)
	require.NoError(t, err)
	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestJoinPrivateLobby(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v, err := r.CreateLobby(ctx, CreateParams{HostID: 1, Name: "secret", IsPrivate: true, Password: "open sesame"})
	require.NoError(t, err)

	_, err = r.JoinLobby(ctx, v.ID, 2, "wrong")
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	joined, err := r.JoinLobby(ctx, v.ID, 2, "open sesame")
	require.NoError(t, err)
	assert.EqualValues(t, 2, *joined.Player2ID)
}

func TestUpdateSelections(t *testing.T) {
	r, store, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	deck, char, ready := int64(10), int64(20), true
	got, err := r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, DeckID: &deck, Ready: &ready})
	require.NoError(t, err)
	assert.Equal(t, "Aggro", got.Player1DeckName)
	assert.Empty(t, got.Player1CharacterName, "fields not supplied stay unchanged")
	require.NotNil(t, got.Ready)
	assert.True(t, *got.Ready)

	last, ok := rec.Last(hub.LobbyTopic(v.ID))
	require.True(t, ok)
	published := last.Payload.(models.LobbyView)
	assert.Equal(t, "Aggro", published.Player1DeckName)
	require.NotNil(t, published.Ready)

	got, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 2, CharacterID: &char})
	require.NoError(t, err)
	assert.Equal(t, "Knight", got.Player2CharacterName)
	assert.Equal(t, "Aggro", got.Player1DeckName)
	assert.Nil(t, got.Ready)

	// ready is never stored
	snapshot, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.Nil(t, snapshot.Ready)

	persisted, _ := store.Persisted(v.ID)
	require.NotNil(t, persisted.Player1.DeckID)
	assert.EqualValues(t, 10, *persisted.Player1.DeckID)
}

func TestUpdateSelectionsRejections(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	rec.Reset()

	deck := int64(10)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 7, DeckID: &deck})
	assert.ErrorIs(t, err, models.ErrForbidden, "outsiders are rejected")

	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 2, DeckID: &deck})
	assert.ErrorIs(t, err, models.ErrForbidden, "deck 10 belongs to user 1")

	missing := int64(404)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, DeckID: &missing})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, CharacterID: &missing})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: 999, UserID: 1, DeckID: &deck})
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Empty(t, rec.Events())

	shared := int64(12)
	got, err := r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 2, DeckID: &shared})
	require.NoError(t, err)
	assert.Equal(t, "Starter", got.Player2DeckName)
}

func TestUpdateMap(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	_, err = r.UpdateMap(ctx, v.ID, 2, 5)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = r.UpdateMap(ctx, v.ID, 1, 404)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := r.UpdateMap(ctx, v.ID, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "Volcano", got.MapName)

	_, err = r.StartGame(ctx, v.ID)
	require.NoError(t, err)
	_, err = r.UpdateMap(ctx, v.ID, 1, 5)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLeaveLobbyHostMigration(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.UpdateMap(ctx, v.ID, 1, 5)
	require.NoError(t, err)
	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	rec.Reset()

	got, err := r.LeaveLobby(ctx, v.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 2, got.Player1ID)
	assert.Equal(t, "user2", got.Player1Name)
	assert.Nil(t, got.Player2ID)
	assert.Equal(t, "Volcano", got.MapName)

	host, err := r.IsHost(v.ID, 2)
	require.NoError(t, err)
	assert.True(t, host)

	_, ok := rec.Last(hub.LobbyTopic(v.ID))
	assert.True(t, ok, "surviving lobby publishes its view")
	_, ok = rec.Last(hub.LobbyListTopic)
	assert.True(t, ok)
}

func TestLeaveLobbyPlayerTwo(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	got, err := r.LeaveLobby(ctx, v.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.Player1ID)
	assert.Nil(t, got.Player2ID)

	_, err = r.LeaveLobby(ctx, v.ID, 2)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLastLeaveDeletesLobby(t *testing.T) {
	r, store, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	keep := createOpen(t, r, 3)

	var closed []int64
	r.OnClose = func(id int64) { closed = append(closed, id) }
	rec.Reset()

	got, err := r.LeaveLobby(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = r.GetLobby(v.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, persisted := store.Persisted(v.ID)
	assert.False(t, persisted)
	assert.Equal(t, []int64{v.ID}, closed)

	closedEv, ok := rec.Last(hub.LobbyTopic(v.ID))
	require.True(t, ok)
	assert.Equal(t, hub.TypeLobbyClosed, closedEv.Type)

	list, ok := rec.Last(hub.LobbyListTopic)
	require.True(t, ok)
	assert.Equal(t, []int64{keep.ID}, listIDs(t, list))
}

func TestDeleteLobby(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	rec.Reset()

	require.NoError(t, r.DeleteLobby(ctx, v.ID))
	assert.Empty(t, r.ListLobbies())

	list, ok := rec.Last(hub.LobbyListTopic)
	require.True(t, ok)
	assert.Empty(t, listIDs(t, list))

	assert.ErrorIs(t, r.DeleteLobby(ctx, v.ID), models.ErrNotFound)
}

func TestStartGame(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)

	got, err := r.StartGame(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, got.Status)

	rec.Reset()
	again, err := r.StartGame(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, again.Status)
	assert.Len(t, rec.OnTopic(hub.LobbyTopic(v.ID)), 1)

	deck := int64(10)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, DeckID: &deck})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = r.StartGame(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestKickPlayer(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	_, err = r.KickPlayer(ctx, v.ID, 2, 1)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = r.KickPlayer(ctx, v.ID, 1, 1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = r.KickPlayer(ctx, v.ID, 1, 3)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := r.KickPlayer(ctx, v.ID, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, got.Player2ID)

	members, err := r.Members(v.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, members)
}

func TestRepositoryFailureLeavesStateUnchanged(t *testing.T) {
	r, store, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	rec.Reset()

	store.SetFailing(true)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	assert.ErrorIs(t, err, lobbytest.ErrStoreDown)
	_, err = r.LeaveLobby(ctx, v.ID, 1)
	assert.ErrorIs(t, err, lobbytest.ErrStoreDown)
	_, err = r.CreateLobby(ctx, CreateParams{HostID: 3})
	assert.ErrorIs(t, err, lobbytest.ErrStoreDown)
	store.SetFailing(false)

	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Player2ID)
	assert.Len(t, r.ListLobbies(), 1)
	assert.Empty(t, rec.Events())
}

func TestBusyLobbyFailsWithBusy(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)

	unlock, err := r.locks.Lock(ctx, v.ID)
	require.NoError(t, err)

	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	assert.ErrorIs(t, err, models.ErrBusy)

	// other lobbies are unaffected
	other := createOpen(t, r, 3)
	_, err = r.JoinLobby(ctx, other.ID, 4, "")
	assert.NoError(t, err)

	unlock()
	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	assert.NoError(t, err)
}

func TestConcurrentJoinsSeatExactlyOne(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []int64
		conflicts int
	)
	for u := int64(2); u <= 9; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := r.JoinLobby(ctx, v.ID, userID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, userID)
			case assert.ErrorIs(t, err, models.ErrConflict):
				conflicts++
			}
		}(u)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, 7, conflicts)

	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.Equal(t, successes[0], *got.Player2ID)
}

func TestConcurrentJoinAndLeave(t *testing.T) {
	for i := 0; i < 20; i++ {
		r, _, rec := setupRegistry(t)
		ctx := context.Background()
		v := createOpen(t, r, 1)

		var wg sync.WaitGroup
		var joinErr, leaveErr error
		wg.Add(2)
		go func() { defer wg.Done(); _, joinErr = r.JoinLobby(ctx, v.ID, 2, "") }()
		go func() { defer wg.Done(); _, leaveErr = r.LeaveLobby(ctx, v.ID, 1) }()
		wg.Wait()

		require.NoError(t, leaveErr)
		got, err := r.GetLobby(v.ID)
		if joinErr == nil {
			// join won: host migrated to user 2
			require.NoError(t, err)
			assert.EqualValues(t, 2, got.Player1ID)
			assert.Nil(t, got.Player2ID)
		} else {
			// leave won: lobby gone, join saw NotFound
			assert.ErrorIs(t, joinErr, models.ErrNotFound)
			assert.ErrorIs(t, err, models.ErrNotFound)
		}

		// the newest list snapshot agrees with memory
		list, ok := rec.Newest(hub.LobbyListTopic)
		require.True(t, ok)
		assert.Len(t, listIDs(t, list), len(r.ListLobbies()))
	}
}

func TestSameLobbyPublishesFollowCommitOrder(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.UpdateMap(ctx, v.ID, 1, 5)
		}()
		go func() {
			defer wg.Done()
			deck := int64(12)
			_, _ = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 2, DeckID: &deck})
		}()
	}
	wg.Wait()

	final, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	last, ok := rec.Last(hub.LobbyTopic(v.ID))
	require.True(t, ok)
	assert.Equal(t, final, last.Payload.(models.LobbyView))
}

func TestCrossLobbyOperationsRunInParallel(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	ids := make([]int64, 0, 4)
	for host := int64(1); host <= 4; host++ {
		ids = append(ids, createOpen(t, r, host).ID)
	}

	// hold every lobby but the last; the last one still proceeds
	for _, id := range ids[:3] {
		unlock, err := r.locks.Lock(ctx, id)
		require.NoError(t, err)
		defer unlock()
	}
	_, err := r.JoinLobby(ctx, ids[3], 9, "")
	assert.NoError(t, err)
}

func TestRestoreLoadsPersistedLobbies(t *testing.T) {
	r, store, _ := setupRegistry(t)
	ctx := context.Background()
	a := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, a.ID, 2, "")
	require.NoError(t, err)
	b := createOpen(t, r, 3)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	restarted := NewRegistry(store, store, &lobbytest.Recorder{}, logger, time.Second)
	require.NoError(t, restarted.Restore(ctx))

	assert.Equal(t, r.ListLobbies(), restarted.ListLobbies())
	got, err := restarted.GetLobby(a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, *got.Player2ID)
	_, err = restarted.GetLobby(b.ID)
	assert.NoError(t, err)
}

func TestHostOnlyCloseAndStart(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)

	_, err := r.StartGameAs(ctx, v.ID, 1)
	assert.ErrorIs(t, err, models.ErrConflict, "cannot start alone")

	_, err = r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	chooseLoadouts(t, r, v.ID)

	_, err = r.StartGameAs(ctx, v.ID, 2)
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.ErrorIs(t, r.CloseLobby(ctx, v.ID, 2), models.ErrForbidden)

	got, err := r.StartGameAs(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, got.Status)

	require.NoError(t, r.CloseLobby(ctx, v.ID, 1))
	_, err = r.GetLobby(v.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStartRequiresBothLoadouts(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	deck, char := int64(10), int64(20)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, DeckID: &deck, CharacterID: &char})
	require.NoError(t, err)
	other := int64(11)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 2, DeckID: &other})
	require.NoError(t, err)
	rec.Reset()

	_, err = r.StartGameAs(ctx, v.ID, 1)
	assert.ErrorIs(t, err, models.ErrConflict, "player 2 has no character")
	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	assert.Empty(t, rec.Events())

	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 2, CharacterID: &char})
	require.NoError(t, err)
	started, err := r.StartGameAs(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, started.Status)
}

func TestUpdateSettingsIsAllOrNothing(t *testing.T) {
	r, store, rec := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	rec.Reset()

	mapID, missing := int64(5), int64(999)
	_, err := r.UpdateSettings(ctx, SettingsUpdate{LobbyID: v.ID, UserID: 1, MapID: &mapID, DeckID: &missing})
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MapName, "the map must not be applied when the deck is rejected")
	persisted, _ := store.Persisted(v.ID)
	assert.Nil(t, persisted.Map)
	assert.Empty(t, rec.Events())

	deck, char, ready := int64(10), int64(20), true
	got, err = r.UpdateSettings(ctx, SettingsUpdate{LobbyID: v.ID, UserID: 1, MapID: &mapID, DeckID: &deck, CharacterID: &char, Ready: &ready})
	require.NoError(t, err)
	assert.Equal(t, "Volcano", got.MapName)
	assert.Equal(t, "Aggro", got.Player1DeckName)
	assert.Equal(t, "Knight", got.Player1CharacterName)
	require.NotNil(t, got.Ready)
	assert.Len(t, rec.OnTopic(hub.LobbyTopic(v.ID)), 1, "one change, one broadcast")
}

func TestUpdateSettingsMapNeedsHost(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	mapID, deck := int64(5), int64(11)
	_, err = r.UpdateSettings(ctx, SettingsUpdate{LobbyID: v.ID, UserID: 2, MapID: &mapID, DeckID: &deck})
	assert.ErrorIs(t, err, models.ErrForbidden)

	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Player2DeckName)
}

func TestCatalogErrorsNameTheRecordOnce(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)

	missing := int64(999)
	_, err := r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, DeckID: &missing})
	assert.EqualError(t, err, "deck 999: not found")
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 1, CharacterID: &missing})
	assert.EqualError(t, err, "character 999: not found")
	_, err = r.UpdateMap(ctx, v.ID, 1, missing)
	assert.EqualError(t, err, "map 999: not found")
	_, err = r.JoinLobby(ctx, v.ID, missing, "")
	assert.EqualError(t, err, "user 999: not found")
}

func TestOneActiveLobbyPerUser(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	a := createOpen(t, r, 1)
	b := createOpen(t, r, 2)

	_, err := r.CreateLobby(ctx, CreateParams{HostID: 1})
	assert.ErrorIs(t, err, models.ErrConflict, "host already has a lobby")
	_, err = r.JoinLobby(ctx, b.ID, 1, "")
	assert.ErrorIs(t, err, models.ErrConflict, "host cannot join another lobby")

	_, err = r.JoinLobby(ctx, a.ID, 3, "")
	require.NoError(t, err)
	_, err = r.CreateLobby(ctx, CreateParams{HostID: 3})
	assert.ErrorIs(t, err, models.ErrConflict, "guest cannot host elsewhere")
	id, ok := r.LobbyOf(3)
	require.True(t, ok)
	assert.Equal(t, a.ID, id)

	// leaving frees the user
	_, err = r.LeaveLobby(ctx, a.ID, 3)
	require.NoError(t, err)
	_, ok = r.LobbyOf(3)
	assert.False(t, ok)
	_, err = r.JoinLobby(ctx, b.ID, 3, "")
	require.NoError(t, err)

	// so does being kicked, and the lobby being closed
	_, err = r.KickPlayer(ctx, b.ID, 2, 3)
	require.NoError(t, err)
	_, err = r.CreateLobby(ctx, CreateParams{HostID: 3})
	require.NoError(t, err)

	require.NoError(t, r.CloseLobby(ctx, a.ID, 1))
	_, err = r.JoinLobby(ctx, b.ID, 1, "")
	assert.NoError(t, err)
}

func TestConcurrentCreatesBySameHost(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.CreateLobby(ctx, CreateParams{HostID: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, models.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 7, conflicts)
	assert.Len(t, r.ListLobbies(), 1)
}

func TestConcurrentCreateAndJoinBySameUser(t *testing.T) {
	for i := 0; i < 20; i++ {
		r, _, _ := setupRegistry(t)
		ctx := context.Background()
		target := createOpen(t, r, 1)

		var wg sync.WaitGroup
		var createErr, joinErr error
		wg.Add(2)
		go func() { defer wg.Done(); _, createErr = r.CreateLobby(ctx, CreateParams{HostID: 2}) }()
		go func() { defer wg.Done(); _, joinErr = r.JoinLobby(ctx, target.ID, 2, "") }()
		wg.Wait()

		if createErr == nil {
			assert.ErrorIs(t, joinErr, models.ErrConflict)
		} else {
			assert.ErrorIs(t, createErr, models.ErrConflict)
			assert.NoError(t, joinErr)
		}
		seats := 0
		for _, v := range r.ListLobbies() {
			if v.Player1ID == 2 || (v.Player2ID != nil && *v.Player2ID == 2) {
				seats++
			}
		}
		assert.Equal(t, 1, seats)
	}
}

func TestRestoreRebuildsSeatIndex(t *testing.T) {
	r, store, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	restarted := NewRegistry(store, store, &lobbytest.Recorder{}, logger, time.Second)
	require.NoError(t, restarted.Restore(ctx))

	_, err = restarted.CreateLobby(ctx, CreateParams{HostID: 2})
	assert.ErrorIs(t, err, models.ErrConflict)
	id, ok := restarted.LobbyOf(1)
	require.True(t, ok)
	assert.Equal(t, v.ID, id)
}

// cancelAfterCreate cancels the caller's context once the insert has happened.
type cancelAfterCreate struct {
	Repository
	cancel context.CancelFunc
}

func (c cancelAfterCreate) CreateLobby(ctx context.Context, l *models.Lobby) (int64, error) {
	id, err := c.Repository.CreateLobby(ctx, l)
	c.cancel()
	return id, err
}

func TestCreateCancelledAfterInsertLeavesNoRow(t *testing.T) {
	_, store, rec := setupRegistry(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRegistry(cancelAfterCreate{Repository: store, cancel: cancel}, store, rec, logger, time.Second)

	_, err := r.CreateLobby(ctx, CreateParams{HostID: 1})
	assert.ErrorIs(t, err, context.Canceled)

	rows, err := store.LoadLobbies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows, "no orphan row")
	assert.Empty(t, r.ListLobbies())
	assert.Empty(t, rec.Events())

	// the host is free to try again
	_, err = r.CreateLobby(context.Background(), CreateParams{HostID: 1})
	assert.NoError(t, err)
}

func TestSeatChangesAreReported(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()
	v := createOpen(t, r, 1)

	var changed []int64
	r.OnSeatsChanged = func(id int64) { changed = append(changed, id) }

	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)
	_, err = r.KickPlayer(ctx, v.ID, 1, 2)
	require.NoError(t, err)
	_, err = r.JoinLobby(ctx, v.ID, 3, "")
	require.NoError(t, err)
	_, err = r.LeaveLobby(ctx, v.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{v.ID, v.ID, v.ID, v.ID}, changed)

	// selection changes keep the seats
	deck := int64(12)
	_, err = r.UpdateSelections(ctx, SelectionUpdate{LobbyID: v.ID, UserID: 3, DeckID: &deck})
	require.NoError(t, err)
	assert.Len(t, changed, 4)
}

func TestAbandonLobby(t *testing.T) {
	r, _, _ := setupRegistry(t)
	ctx := context.Background()

	assert.NoError(t, r.AbandonLobby(ctx, 5), "seated nowhere")

	v := createOpen(t, r, 1)
	_, err := r.JoinLobby(ctx, v.ID, 2, "")
	require.NoError(t, err)

	require.NoError(t, r.AbandonLobby(ctx, 1))
	got, err := r.GetLobby(v.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Player1ID, "host seat migrates")

	require.NoError(t, r.AbandonLobby(ctx, 2))
	_, err = r.GetLobby(v.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	started := createOpen(t, r, 3)
	_, err = r.StartGame(ctx, started.ID)
	require.NoError(t, err)
	require.NoError(t, r.AbandonLobby(ctx, 3))
	got, err = r.GetLobby(started.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Player1ID, "started lobbies are kept")
}

func TestListSnapshotsAreNumbered(t *testing.T) {
	r, _, rec := setupRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for host := int64(1); host <= 6; host++ {
		wg.Add(1)
		go func(host int64) {
			defer wg.Done()
			_, err := r.CreateLobby(ctx, CreateParams{HostID: host})
			assert.NoError(t, err)
		}(host)
	}
	wg.Wait()

	evs := rec.OnTopic(hub.LobbyListTopic)
	require.Len(t, evs, 6)
	sizes := map[uint64]int{}
	for _, ev := range evs {
		sizes[ev.Seq] = len(listIDs(t, ev))
	}
	require.Len(t, sizes, 6, "every snapshot gets its own number")
	for seq := uint64(2); seq <= 6; seq++ {
		assert.GreaterOrEqual(t, sizes[seq], sizes[seq-1], "a later snapshot never loses a lobby")
	}

	newest, ok := rec.Newest(hub.LobbyListTopic)
	require.True(t, ok)
	assert.Len(t, listIDs(t, newest), 6)
}
