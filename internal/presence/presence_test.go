package presence_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"casechat/internal/presence"
)

type MockPresenceStore struct {
	mock.Mock
}

func (m *MockPresenceStore) SetOnline(ctx context.Context, userID string, online bool) error {
	args := m.Called(ctx, userID, online)
	return args.Error(0)
}

func (m *MockPresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPresenceStore) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	args := m.Called(ctx, roomID, userID, typing)
	return args.Error(0)
}

func (m *MockPresenceStore) TypingUsers(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPresenceStore) RegisterDisconnect(fn func(ctx context.Context)) func() {
	args := m.Called(fn)
	return args.Get(0).(func())
}

func TestFlagDownShortCircuits(t *testing.T) {
	store := new(MockPresenceStore)
	s := presence.NewSignaler(store, false)
	ctx := context.Background()

	assert.False(t, s.Enabled())
	assert.NoError(t, s.Start(ctx, "u1"))
	assert.NoError(t, s.SetTyping(ctx, "room-1", "u1", true))

	online, err := s.IsOnline(ctx, "u1")
	assert.NoError(t, err)
	assert.False(t, online)

	users, err := s.TypingUsers(ctx, "room-1")
	assert.NoError(t, err)
	assert.Empty(t, users)

	s.Stop(ctx, "u1")

	store.AssertNotCalled(t, "SetOnline", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SetTyping", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartRegistersOfflineCompensation(t *testing.T) {
	store := new(MockPresenceStore)
	store.On("SetOnline", mock.Anything, "u1", true).Return(nil)

	var compensation func(ctx context.Context)
	store.On("RegisterDisconnect", mock.Anything).
		Run(func(args mock.Arguments) {
			compensation = args.Get(0).(func(ctx context.Context))
		}).
		Return(func() {})

	s := presence.NewSignaler(store, true)
	assert.NoError(t, s.Start(context.Background(), "u1"))
	store.AssertExpectations(t)

	// Ungraceful termination runs the queued compensation.
	store.On("SetOnline", mock.Anything, "u1", false).Return(nil)
	compensation(context.Background())
	store.AssertCalled(t, "SetOnline", mock.Anything, "u1", false)
}

func TestStopClearsStateAndCancelsCompensations(t *testing.T) {
	store := new(MockPresenceStore)
	store.On("SetOnline", mock.Anything, "u1", true).Return(nil)
	store.On("SetOnline", mock.Anything, "u1", false).Return(nil)
	store.On("SetTyping", mock.Anything, "room-1", "u1", true).Return(nil)
	store.On("SetTyping", mock.Anything, "room-1", "u1", false).Return(nil)

	var cancelled int
	store.On("RegisterDisconnect", mock.Anything).Return(func() { cancelled++ })

	s := presence.NewSignaler(store, true)
	ctx := context.Background()
	assert.NoError(t, s.Start(ctx, "u1"))
	assert.NoError(t, s.SetTyping(ctx, "room-1", "u1", true))

	s.Stop(ctx, "u1")

	// One compensation from Start, one from the typing raise.
	assert.Equal(t, 2, cancelled)
	store.AssertCalled(t, "SetTyping", mock.Anything, "room-1", "u1", false)
	store.AssertCalled(t, "SetOnline", mock.Anything, "u1", false)
}

func TestSetTypingLifecycle(t *testing.T) {
	store := new(MockPresenceStore)
	store.On("SetTyping", mock.Anything, "room-1", "u1", true).Return(nil)
	store.On("SetTyping", mock.Anything, "room-1", "u1", false).Return(nil)
	store.On("RegisterDisconnect", mock.Anything).Return(func() {})

	s := presence.NewSignaler(store, true)
	ctx := context.Background()

	assert.NoError(t, s.SetTyping(ctx, "room-1", "u1", true))
	assert.NoError(t, s.SetTyping(ctx, "room-1", "u1", true))
	assert.NoError(t, s.SetTyping(ctx, "room-1", "u1", false))

	// Repeated raises in the same room register a single compensation.
	store.AssertNumberOfCalls(t, "RegisterDisconnect", 1)
}

// fakePresenceStore is a stateful in-memory store: the compensation hooks it
// collects can be run later, the way the real store runs them on connection
// loss.
type fakePresenceStore struct {
	mu     sync.Mutex
	online map[string]bool
	typing map[string]map[string]bool
	hooks  map[int]func(ctx context.Context)
	nextID int
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{
		online: make(map[string]bool),
		typing: make(map[string]map[string]bool),
		hooks:  make(map[int]func(ctx context.Context)),
	}
}

func (f *fakePresenceStore) SetOnline(ctx context.Context, userID string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
	return nil
}

func (f *fakePresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID], nil
}

func (f *fakePresenceStore) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typing[roomID] == nil {
		f.typing[roomID] = make(map[string]bool)
	}
	f.typing[roomID][userID] = typing
	return nil
}

func (f *fakePresenceStore) TypingUsers(ctx context.Context, roomID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []string
	for userID, active := range f.typing[roomID] {
		if active {
			users = append(users, userID)
		}
	}
	return users, nil
}

func (f *fakePresenceStore) RegisterDisconnect(fn func(ctx context.Context)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.hooks[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.hooks, id)
	}
}

// runHooks simulates connection loss: every still-registered compensation
// runs.
func (f *fakePresenceStore) runHooks(ctx context.Context) {
	f.mu.Lock()
	hooks := make([]func(ctx context.Context), 0, len(f.hooks))
	for _, fn := range f.hooks {
		hooks = append(hooks, fn)
	}
	f.hooks = make(map[int]func(ctx context.Context))
	f.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

func TestStopReleasesOnlyStoppingUser(t *testing.T) {
	store := newFakePresenceStore()
	s := presence.NewSignaler(store, true)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "userA"))
	require.NoError(t, s.Start(ctx, "userB"))
	require.NoError(t, s.SetTyping(ctx, "room-1", "userB", true))

	s.Stop(ctx, "userA")

	// A is offline; B's live state is untouched.
	onlineA, _ := store.IsOnline(ctx, "userA")
	assert.False(t, onlineA)
	onlineB, _ := store.IsOnline(ctx, "userB")
	assert.True(t, onlineB)
	typing, _ := store.TypingUsers(ctx, "room-1")
	assert.Equal(t, []string{"userB"}, typing)

	// B's compensations are still registered: connection loss flips B
	// offline and clears the typing flag.
	store.runHooks(ctx)
	onlineB, _ = store.IsOnline(ctx, "userB")
	assert.False(t, onlineB)
	typing, _ = store.TypingUsers(ctx, "room-1")
	assert.Empty(t, typing)
}

func TestTwoUsersTypingInSameRoom(t *testing.T) {
	store := newFakePresenceStore()
	s := presence.NewSignaler(store, true)
	ctx := context.Background()

	require.NoError(t, s.SetTyping(ctx, "room-1", "userA", true))
	require.NoError(t, s.SetTyping(ctx, "room-1", "userB", true))

	typing, _ := store.TypingUsers(ctx, "room-1")
	assert.ElementsMatch(t, []string{"userA", "userB"}, typing)

	// Stopping A clears only A's flag.
	s.Stop(ctx, "userA")
	typing, _ = store.TypingUsers(ctx, "room-1")
	assert.Equal(t, []string{"userB"}, typing)

	// Each user got their own removal compensation.
	store.runHooks(ctx)
	typing, _ = store.TypingUsers(ctx, "room-1")
	assert.Empty(t, typing)
}

func TestIsOnlineDelegates(t *testing.T) {
	store := new(MockPresenceStore)
	store.On("IsOnline", mock.Anything, "u1").Return(true, nil)

	s := presence.NewSignaler(store, true)
	online, err := s.IsOnline(context.Background(), "u1")

	assert.NoError(t, err)
	assert.True(t, online)
}

func TestTypingUsersDelegates(t *testing.T) {
	store := new(MockPresenceStore)
	store.On("TypingUsers", mock.Anything, "room-1").Return([]string{"u1", "u2"}, nil)

	s := presence.NewSignaler(store, true)
	users, err := s.TypingUsers(context.Background(), "room-1")

	assert.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)
}
