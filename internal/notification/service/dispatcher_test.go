package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/smallbiznis/stitchery/internal/liveevents"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeEmail struct {
	mu    sync.Mutex
	sent  []sentMail
	fail  error
	delay time.Duration
}

func (f *fakeEmail) Send(ctx context.Context, to []string, subject, body string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, userID snowflake.ID) (*notificationdomain.Recipient, error) {
	args := m.Called(ctx, userID)
	recipient, _ := args.Get(0).(*notificationdomain.Recipient)
	return recipient, args.Error(1)
}

type mockMarker struct {
	mock.Mock
}

func (m *mockMarker) MarkNotificationSent(ctx context.Context, orderID snowflake.ID, status string, at time.Time) error {
	return m.Called(ctx, orderID, status, at).Error(0)
}

func newDispatcher(t *testing.T, mail *fakeEmail, resolver *mockResolver, marker *mockMarker, hub *liveevents.Hub, queue int) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Params{
		Config: config.Config{
			AppName:     "Stitchery",
			FrontendURL: "https://app.test",
			Notify:      config.NotifyConfig{Workers: 2, QueueSize: queue},
		},
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
		Email:    mail,
		Resolver: resolver,
		Marker:   marker,
		Hub:      hub,
	})
	require.NoError(t, err)
	return d
}

func TestRendererCoversEveryKind(t *testing.T) {
	r, err := NewRenderer("Stitchery", "https://app.test/")
	require.NoError(t, err)

	recipient := notificationdomain.Recipient{Email: "a@b.test", Name: "Ada"}
	for kind := range subjects {
		subject, body, err := r.Render(notificationdomain.Event{
			Kind:        kind,
			OrderID:     99,
			OrderNumber: "ORD-2025-001",
			DesignName:  "Tiger <b>",
			Formats:     []string{"DST", "PES"},
			Notes:       "thread ran out",
			Tokens:      50,
			Balance:     150,
		}, recipient)
		require.NoError(t, err, kind)
		assert.NotEmpty(t, subject)
		assert.Contains(t, body, "Hi Ada")
		assert.NotContains(t, body, "<b>", "design names are escaped")
	}

	subject, body, err := r.Render(notificationdomain.Event{
		Kind:        notificationdomain.KindOrderFailed,
		OrderID:     99,
		OrderNumber: "ORD-2025-001",
		Notes:       "thread ran out",
	}, recipient)
	require.NoError(t, err)
	assert.Equal(t, "Order ORD-2025-001 needs your attention", subject)
	assert.Contains(t, body, "thread ran out")
	assert.Contains(t, body, "https://app.test/orders/99")
}

func TestDispatcherSendsMarksAndPublishes(t *testing.T) {
	mail := &fakeEmail{}
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, snowflake.ID(7)).
		Return(&notificationdomain.Recipient{Email: "maker@test", Name: "Maker"}, nil)
	marker := &mockMarker{}
	marker.On("MarkNotificationSent", mock.Anything, snowflake.ID(100), "completed", mock.Anything).Return(nil).Once()

	hub := liveevents.NewHub()
	sub, _, err := hub.Subscribe(7)
	require.NoError(t, err)
	defer sub.Close()

	d := newDispatcher(t, mail, resolver, marker, hub, 8)
	d.Start()

	d.Notify(context.Background(), notificationdomain.Event{
		Kind:        notificationdomain.KindOrderCompleted,
		UserID:      7,
		OrderID:     100,
		OrderNumber: "ORD-2025-004",
		OrderStatus: "completed",
		Formats:     []string{"DST"},
	})
	require.NoError(t, d.Stop(context.Background()))

	require.Equal(t, 1, mail.count())
	assert.Equal(t, []string{"maker@test"}, mail.sent[0].to)
	assert.Equal(t, "Order ORD-2025-004 is ready", mail.sent[0].subject)
	assert.True(t, strings.Contains(mail.sent[0].body, "DST"))
	marker.AssertExpectations(t)

	select {
	case event := <-sub.Events():
		assert.Equal(t, "completed", event.Status)
		assert.Equal(t, "ORD-2025-004", event.Number)
	default:
		t.Fatal("expected live event")
	}
}

func TestDispatcherDoesNotMarkFailedSends(t *testing.T) {
	mail := &fakeEmail{fail: errors.New("smtp down")}
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).
		Return(&notificationdomain.Recipient{Email: "maker@test"}, nil)
	marker := &mockMarker{}

	d := newDispatcher(t, mail, resolver, marker, nil, 8)
	d.Start()
	d.Notify(context.Background(), notificationdomain.Event{Kind: notificationdomain.KindOrderProcessing, UserID: 7, OrderID: 5})
	require.NoError(t, d.Stop(context.Background()))

	marker.AssertNotCalled(t, "MarkNotificationSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcherSkipsMarkerForNonOrderKinds(t *testing.T) {
	mail := &fakeEmail{}
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).
		Return(&notificationdomain.Recipient{Email: "buyer@test"}, nil)
	marker := &mockMarker{}

	d := newDispatcher(t, mail, resolver, marker, nil, 8)
	d.Start()
	d.Notify(context.Background(), notificationdomain.Event{Kind: notificationdomain.KindTokensPurchased, UserID: 3, Tokens: 100, Balance: 100})
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 1, mail.count())
	assert.Equal(t, "Your tokens have arrived", mail.sent[0].subject)
	marker.AssertNotCalled(t, "MarkNotificationSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcherUnknownRecipientIsLogged(t *testing.T) {
	mail := &fakeEmail{}
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(nil, errors.New("customer_not_found"))

	d := newDispatcher(t, mail, resolver, &mockMarker{}, nil, 8)
	d.Start()
	d.Notify(context.Background(), notificationdomain.Event{Kind: notificationdomain.KindWelcome, UserID: 1})
	require.NoError(t, d.Stop(context.Background()))
	assert.Zero(t, mail.count())
}

func TestNotifyNeverBlocksWhenQueueIsFull(t *testing.T) {
	mail := &fakeEmail{}
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(&notificationdomain.Recipient{Email: "x@test"}, nil)

	d := newDispatcher(t, mail, resolver, &mockMarker{}, nil, 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(context.Background(), notificationdomain.Event{Kind: notificationdomain.KindWelcome, UserID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked")
	}

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 2, mail.count())

	d.Notify(context.Background(), notificationdomain.Event{Kind: notificationdomain.KindWelcome, UserID: 1})
	assert.Equal(t, 2, mail.count())
}

func TestStopHonorsDeadline(t *testing.T) {
	mail := &fakeEmail{delay: 200 * time.Millisecond}
	resolver := &mockResolver{}
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(&notificationdomain.Recipient{Email: "x@test"}, nil)

	d := newDispatcher(t, mail, resolver, &mockMarker{}, nil, 16)
	d.Start()
	for i := 0; i < 8; i++ {
		d.Notify(context.Background(), notificationdomain.Event{Kind: notificationdomain.KindWelcome, UserID: 1})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}
