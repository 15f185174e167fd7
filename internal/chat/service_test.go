package chat_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"casechat/internal/chat"
	"casechat/internal/domain"
)

func newTestService(msgs *MockMessageStore, rooms *MockRoomStore) *chat.Service {
	return chat.NewService(msgs, rooms, nil, 50, 30, time.Minute)
}

func TestSendEmptyContentAborts(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)

	_, _, ok := newTestService(msgs, rooms).Send(context.Background(), chat.SendInput{
		CaseID:   "case-1",
		SenderID: "u1",
	})

	assert.False(t, ok)
	msgs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendUnresolvableRoomAborts(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)
	rooms.On("GetMetadata", mock.Anything, "case-1").Return(nil, domain.ErrRoomNotFound)
	msgs.On("HasMessages", mock.Anything, "case-1").Return(false, nil)

	_, _, ok := newTestService(msgs, rooms).Send(context.Background(), chat.SendInput{
		CaseID:     "case-1",
		SenderID:   "u1",
		SenderRole: domain.RoleClient,
		Content:    "hello",
	})

	assert.False(t, ok)
	msgs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendCreatesPairedRoomLazily(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)
	rooms.On("GetMetadata", mock.Anything, "u1_u2").Return(nil, domain.ErrRoomNotFound)
	rooms.On("GetMetadata", mock.Anything, "case-1").Return(nil, domain.ErrRoomNotFound)
	msgs.On("HasMessages", mock.Anything, "case-1").Return(false, nil)
	rooms.On("PutMetadata", mock.Anything, "u1_u2", mock.Anything).Return(nil)
	rooms.On("PutUserRoom", mock.Anything, "u1", "u1_u2", mock.Anything).Return(nil)
	rooms.On("PutUserRoom", mock.Anything, "u2", "u1_u2", mock.Anything).Return(nil)
	msgs.On("Append", mock.Anything, "u1_u2", mock.Anything).Return("m1", nil)
	rooms.On("UpdateSummary", mock.Anything, "u1_u2", "hello", mock.Anything).Return(nil)

	roomID, confirmed, ok := newTestService(msgs, rooms).Send(context.Background(), chat.SendInput{
		CaseID:     "case-1",
		SenderID:   "u1",
		SenderName: "Ada",
		SenderRole: domain.RoleClient,
		Content:    "hello",
		ClientID:   "u1",
		AgentID:    "u2",
	})

	assert.True(t, ok)
	assert.Equal(t, "u1_u2", roomID)
	if assert.NotNil(t, confirmed) {
		assert.Equal(t, "m1", confirmed.ID)
		assert.Equal(t, domain.StatusSent, confirmed.Status)
	}
	rooms.AssertExpectations(t)
}

func TestDeliverMirrorsSummaryToParticipants(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)
	meta := &domain.RoomMetadata{
		Participants: domain.Participants{ClientID: "u1", AgentID: "u2"},
		CaseReferences: []domain.CaseReference{
			{CaseID: "case-1", CaseReference: "REF-1"},
		},
	}
	msgs.On("Append", mock.Anything, "u1_u2", mock.Anything).Return("m1", nil)
	rooms.On("UpdateSummary", mock.Anything, "u1_u2", "hello", int64(1000)).Return(nil)
	rooms.On("GetMetadata", mock.Anything, "u1_u2").Return(meta, nil)

	var mirrored []*domain.RoomSummary
	rooms.On("PutUserRoom", mock.Anything, mock.Anything, "u1_u2", mock.Anything).
		Run(func(args mock.Arguments) {
			mirrored = append(mirrored, args.Get(3).(*domain.RoomSummary))
		}).
		Return(nil)
	// Recipient's unread cache refresh.
	msgs.On("ListAll", mock.Anything, "u1_u2").Return([]*domain.Message{
		{ID: "m1", SenderID: "u1", Content: "hello", Timestamp: 1000},
	}, nil)
	rooms.On("SetUnreadCount", mock.Anything, "u2", "u1_u2", 1).Return(nil)

	confirmed, err := newTestService(msgs, rooms).Deliver(context.Background(), "u1_u2", &domain.Message{
		CaseID:    "case-1",
		SenderID:  "u1",
		Content:   "hello",
		Timestamp: 1000,
	})

	assert.NoError(t, err)
	assert.Equal(t, "m1", confirmed.ID)
	if assert.Len(t, mirrored, 2) {
		assert.Equal(t, "hello", mirrored[0].LastMessage)
		assert.Equal(t, "REF-1", mirrored[0].CaseReference)
	}
	rooms.AssertExpectations(t)
}

func TestDeliverStripsClientFieldsBeforeAppend(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)

	var appended *domain.Message
	msgs.On("Append", mock.Anything, "room-1", mock.Anything).
		Run(func(args mock.Arguments) {
			appended = args.Get(2).(*domain.Message)
		}).
		Return("m1", nil)
	rooms.On("UpdateSummary", mock.Anything, "room-1", mock.Anything, mock.Anything).Return(nil)
	rooms.On("GetMetadata", mock.Anything, "room-1").Return(nil, domain.ErrRoomNotFound)

	optimistic := &domain.Message{
		TempID:    "temp-abc",
		SenderID:  "u1",
		Content:   "hi",
		Timestamp: 1000,
		Status:    domain.StatusPending,
	}
	confirmed, err := newTestService(msgs, rooms).Deliver(context.Background(), "room-1", optimistic)

	assert.NoError(t, err)
	if assert.NotNil(t, appended) {
		assert.Empty(t, appended.Status)
	}
	assert.Equal(t, domain.StatusPending, optimistic.Status)
	assert.Equal(t, domain.StatusSent, confirmed.Status)
}

func TestDeliverTruncatesPreview(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)
	long := strings.Repeat("a", 150)

	var preview string
	msgs.On("Append", mock.Anything, "room-1", mock.Anything).Return("m1", nil)
	rooms.On("UpdateSummary", mock.Anything, "room-1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			preview = args.Get(2).(string)
		}).
		Return(nil)
	rooms.On("GetMetadata", mock.Anything, "room-1").Return(nil, domain.ErrRoomNotFound)

	_, err := newTestService(msgs, rooms).Deliver(context.Background(), "room-1", &domain.Message{
		SenderID:  "u1",
		Content:   long,
		Timestamp: 1000,
	})

	assert.NoError(t, err)
	assert.Len(t, []rune(preview), 100)
}

func TestRoomParticipants(t *testing.T) {
	msgs := new(MockMessageStore)
	rooms := new(MockRoomStore)
	rooms.On("GetMetadata", mock.Anything, "u1_u2").Return(&domain.RoomMetadata{
		Participants: domain.Participants{ClientID: "u1", AgentID: "u2"},
	}, nil)
	rooms.On("GetMetadata", mock.Anything, "nope").Return(nil, domain.ErrRoomNotFound)

	svc := newTestService(msgs, rooms)

	p, ok := svc.RoomParticipants(context.Background(), "u1_u2")
	assert.True(t, ok)
	assert.Equal(t, "u1", p.ClientID)

	_, ok = svc.RoomParticipants(context.Background(), "nope")
	assert.False(t, ok)
}
