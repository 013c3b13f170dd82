package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/swapmeet/swapmeet-backend/internal/common"
	"github.com/swapmeet/swapmeet-backend/internal/domain"
	"github.com/swapmeet/swapmeet-backend/internal/presence"
	"github.com/swapmeet/swapmeet-backend/internal/wire"
	"gorm.io/gorm"
)

// --- Mock MessageRepository ---

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Create(msg *domain.Message) error {
	args := m.Called(msg)
	if msg.ID == "" {
		msg.ID = "generated"
	}
	return args.Error(0)
}

func (m *mockMessageRepo) FindByID(id string) (*domain.Message, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *mockMessageRepo) ListForUser(userID string) ([]*domain.Message, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *mockMessageRepo) MarkAsRead(id string, at time.Time) (bool, error) {
	args := m.Called(id, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockMessageRepo) MarkThreadRead(listingID, readerID, otherUserID string, at time.Time) ([]*domain.Message, error) {
	args := m.Called(listingID, readerID, otherUserID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *mockMessageRepo) CountUnread(userID string) (int64, error) {
	args := m.Called(userID)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock ListingRepository ---

type mockListingRepo struct {
	mock.Mock
}

func (m *mockListingRepo) FindByID(ctx context.Context, id string) (*domain.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Listing), args.Error(1)
}

func (m *mockListingRepo) FindByIDs(ctx context.Context, ids []string) ([]*domain.Listing, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Listing), args.Error(1)
}

func (m *mockListingRepo) Create(ctx context.Context, listing *domain.Listing) error {
	return m.Called(ctx, listing).Error(0)
}

// --- recording Realtime ---

type recordingRealtime struct {
	mu            sync.Mutex
	newMessages   []*domain.Message
	notifications []wire.MessageNotification
	reads         []*domain.Message
}

func (r *recordingRealtime) EmitNewMessage(m *domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newMessages = append(r.newMessages, m)
}

func (r *recordingRealtime) EmitMessageNotification(n wire.MessageNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingRealtime) EmitMessageRead(m *domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, m)
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestService(repo *mockMessageRepo, listings *mockListingRepo, store presence.Store) (*messageService, *recordingRealtime) {
	rt := &recordingRealtime{}
	svc := NewMessageService(repo, listings, store, rt, 10).(*messageService)
	svc.now = func() time.Time { return fixedNow }
	return svc, rt
}

func TestSend_PersistsThenEmits(t *testing.T) {
	repo := new(mockMessageRepo)
	listings := new(mockListingRepo)
	svc, rt := newTestService(repo, listings, nil)

	listings.On("FindByID", mock.Anything, "L1").Return(&domain.Listing{ID: "L1", Title: "Road bike"}, nil)
	repo.On("Create", mock.MatchedBy(func(m *domain.Message) bool {
		return m.SenderID == "buyer" && m.ReceiverID == "seller" && m.Content == "Is this available?"
	})).Return(nil)

	msg, err := svc.Send(context.Background(), Sender{ID: "buyer", Name: "Alice"}, &domain.SendMessageRequest{
		ReceiverID: "seller",
		ListingID:  "L1",
		Content:    "  Is this available?  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Is this available?", msg.Content)
	assert.Equal(t, fixedNow, msg.CreatedAt)
	assert.False(t, msg.IsRead)

	require.Len(t, rt.newMessages, 1)
	assert.Same(t, msg, rt.newMessages[0])
	require.Len(t, rt.notifications, 1)
	n := rt.notifications[0]
	assert.Equal(t, "Alice", n.SenderName)
	assert.Equal(t, "Road bike", n.ListingTitle)
	assert.Equal(t, "Is this a…", n.Preview)
	repo.AssertExpectations(t)
}

func TestSend_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.SendMessageRequest
		wantErr error
	}{
		{"blank content", domain.SendMessageRequest{ReceiverID: "seller", ListingID: "L1", Content: "   "}, common.ErrEmptyContent},
		{"too long", domain.SendMessageRequest{ReceiverID: "seller", ListingID: "L1", Content: strings.Repeat("가", MaxContentLength+1)}, common.ErrContentTooLong},
		{"self message", domain.SendMessageRequest{ReceiverID: "buyer", ListingID: "L1", Content: "hi"}, common.ErrSelfMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockMessageRepo)
			svc, rt := newTestService(repo, new(mockListingRepo), nil)

			_, err := svc.Send(context.Background(), Sender{ID: "buyer"}, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			repo.AssertNotCalled(t, "Create", mock.Anything)
			assert.Empty(t, rt.newMessages)
		})
	}
}

func TestSend_UnknownListing(t *testing.T) {
	repo := new(mockMessageRepo)
	listings := new(mockListingRepo)
	svc, rt := newTestService(repo, listings, nil)
	listings.On("FindByID", mock.Anything, "gone").Return(nil, gorm.ErrRecordNotFound)

	_, err := svc.Send(context.Background(), Sender{ID: "buyer"}, &domain.SendMessageRequest{ReceiverID: "seller", ListingID: "gone", Content: "hi"})
	assert.ErrorIs(t, err, common.ErrListingNotFound)
	assert.Empty(t, rt.newMessages)
}

func TestSend_PersistFailureEmitsNothing(t *testing.T) {
	repo := new(mockMessageRepo)
	listings := new(mockListingRepo)
	svc, rt := newTestService(repo, listings, nil)
	listings.On("FindByID", mock.Anything, "L1").Return(&domain.Listing{ID: "L1", Title: "Bike"}, nil)
	repo.On("Create", mock.Anything).Return(errors.New("db down"))

	_, err := svc.Send(context.Background(), Sender{ID: "buyer"}, &domain.SendMessageRequest{ReceiverID: "seller", ListingID: "L1", Content: "hi"})
	assert.Error(t, err)
	assert.Empty(t, rt.newMessages)
	assert.Empty(t, rt.notifications)
}

func TestMarkRead_ReceiverOnly(t *testing.T) {
	repo := new(mockMessageRepo)
	svc, rt := newTestService(repo, new(mockListingRepo), nil)
	repo.On("FindByID", "m1").Return(&domain.Message{ID: "m1", SenderID: "buyer", ReceiverID: "seller"}, nil)

	_, err := svc.MarkRead("buyer", "m1")
	assert.ErrorIs(t, err, common.ErrForbidden)
	repo.AssertNotCalled(t, "MarkAsRead", mock.Anything, mock.Anything)
	assert.Empty(t, rt.reads)
}

func TestMarkRead_EmitsOnTransitionOnly(t *testing.T) {
	repo := new(mockMessageRepo)
	svc, rt := newTestService(repo, new(mockListingRepo), nil)
	repo.On("FindByID", "m1").Return(&domain.Message{ID: "m1", SenderID: "buyer", ReceiverID: "seller"}, nil).Once()
	repo.On("MarkAsRead", "m1", fixedNow).Return(true, nil).Once()

	msg, err := svc.MarkRead("seller", "m1")
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
	require.NotNil(t, msg.ReadAt)
	require.Len(t, rt.reads, 1)
	assert.Equal(t, "m1", rt.reads[0].ID)

	readAt := fixedNow
	repo.On("FindByID", "m1").Return(&domain.Message{ID: "m1", SenderID: "buyer", ReceiverID: "seller", IsRead: true, ReadAt: &readAt}, nil).Once()
	_, err = svc.MarkRead("seller", "m1")
	require.NoError(t, err)
	assert.Len(t, rt.reads, 1)
	repo.AssertNumberOfCalls(t, "MarkAsRead", 1)
}

func TestMarkRead_NotFound(t *testing.T) {
	repo := new(mockMessageRepo)
	svc, _ := newTestService(repo, new(mockListingRepo), nil)
	repo.On("FindByID", "nope").Return(nil, gorm.ErrRecordNotFound)

	_, err := svc.MarkRead("seller", "nope")
	assert.ErrorIs(t, err, common.ErrMessageNotFound)
}

func TestMarkThreadRead_EmitsPerMessage(t *testing.T) {
	repo := new(mockMessageRepo)
	svc, rt := newTestService(repo, new(mockListingRepo), nil)
	marked := []*domain.Message{{ID: "a"}, {ID: "b"}}
	repo.On("MarkThreadRead", "L1", "seller", "buyer", fixedNow).Return(marked, nil)

	n, err := svc.MarkThreadRead("seller", &domain.MarkThreadReadRequest{ListingID: "L1", OtherUserID: "buyer"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, rt.reads, 2)
}

func TestThreads_AnnotatesPresence(t *testing.T) {
	repo := new(mockMessageRepo)
	listings := new(mockListingRepo)
	store := presence.NewMemoryStore(time.Minute, func() time.Time { return fixedNow })
	require.NoError(t, store.Heartbeat(context.Background(), "buyer"))
	svc, _ := newTestService(repo, listings, store)

	repo.On("ListForUser", "seller").Return([]*domain.Message{
		{ID: "1", ListingID: "L1", SenderID: "buyer", ReceiverID: "seller", CreatedAt: fixedNow},
		{ID: "2", ListingID: "L2", SenderID: "other", ReceiverID: "seller", CreatedAt: fixedNow.Add(-time.Minute)},
	}, nil)
	listings.On("FindByIDs", mock.Anything, []string{"L1", "L2"}).Return([]*domain.Listing{{ID: "L1", Title: "Bike"}}, nil)

	threads, err := svc.Threads(context.Background(), "seller")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "buyer", threads[0].OtherUserID)
	assert.True(t, threads[0].OtherUserOnline)
	assert.Equal(t, "Bike", threads[0].ListingTitle)
	assert.False(t, threads[1].OtherUserOnline)
	assert.Equal(t, domain.DefaultListingTitle, threads[1].ListingTitle)
}

func TestThreads_ListingFailureStillRenders(t *testing.T) {
	repo := new(mockMessageRepo)
	listings := new(mockListingRepo)
	svc, _ := newTestService(repo, listings, nil)

	repo.On("ListForUser", "seller").Return([]*domain.Message{
		{ID: "1", ListingID: "L1", SenderID: "buyer", ReceiverID: "seller", CreatedAt: fixedNow},
	}, nil)
	listings.On("FindByIDs", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	threads, err := svc.Threads(context.Background(), "seller")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, domain.DefaultListingTitle, threads[0].ListingTitle)
	assert.Equal(t, 1, threads[0].UnreadCount)
}

func TestUnreadCount(t *testing.T) {
	repo := new(mockMessageRepo)
	svc, _ := newTestService(repo, new(mockListingRepo), nil)
	repo.On("CountUnread", "seller").Return(int64(3), nil)

	n, err := svc.UnreadCount("seller")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
