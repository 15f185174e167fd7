package chat_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"casechat/internal/domain"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Append(ctx context.Context, roomID string, msg *domain.Message) (string, error) {
	args := m.Called(ctx, roomID, msg)
	return args.String(0), args.Error(1)
}

func (m *MockMessageStore) ListLatest(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, roomID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageStore) ListBefore(ctx context.Context, roomID string, before int64, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, roomID, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageStore) ListAll(ctx context.Context, roomID string) ([]*domain.Message, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageStore) Count(ctx context.Context, roomID string) (int, error) {
	args := m.Called(ctx, roomID)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageStore) HasMessages(ctx context.Context, roomID string) (bool, error) {
	args := m.Called(ctx, roomID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageStore) SetRead(ctx context.Context, roomID, messageID string, read bool) error {
	args := m.Called(ctx, roomID, messageID, read)
	return args.Error(0)
}

func (m *MockMessageStore) Subscribe(ctx context.Context, roomID string, fn func(*domain.Message)) (func(), error) {
	args := m.Called(ctx, roomID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func (m *MockMessageStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) GetMetadata(ctx context.Context, roomID string) (*domain.RoomMetadata, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoomMetadata), args.Error(1)
}

func (m *MockRoomStore) PutMetadata(ctx context.Context, roomID string, meta *domain.RoomMetadata) error {
	args := m.Called(ctx, roomID, meta)
	return args.Error(0)
}

func (m *MockRoomStore) UpdateSummary(ctx context.Context, roomID, lastMessage string, lastMessageTime int64) error {
	args := m.Called(ctx, roomID, lastMessage, lastMessageTime)
	return args.Error(0)
}

func (m *MockRoomStore) UserRooms(ctx context.Context, userID string) (map[string]*domain.RoomSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.RoomSummary), args.Error(1)
}

func (m *MockRoomStore) PutUserRoom(ctx context.Context, userID, roomID string, s *domain.RoomSummary) error {
	args := m.Called(ctx, userID, roomID, s)
	return args.Error(0)
}

func (m *MockRoomStore) SetUnreadCount(ctx context.Context, userID, roomID string, n int) error {
	args := m.Called(ctx, userID, roomID, n)
	return args.Error(0)
}

func (m *MockRoomStore) SubscribeUserRooms(ctx context.Context, userID string, fn func()) (func(), error) {
	args := m.Called(ctx, userID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

type MockCaseDirectory struct {
	mock.Mock
}

func (m *MockCaseDirectory) ParticipantsForCase(ctx context.Context, caseID string) (domain.Participants, error) {
	args := m.Called(ctx, caseID)
	return args.Get(0).(domain.Participants), args.Error(1)
}
