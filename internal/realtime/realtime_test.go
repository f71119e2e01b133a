package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/clinic-chat/internal/api/dto"
	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/domain"
	"github.com/spec-kit/clinic-chat/internal/events"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

var errClosed = errors.New("connection closed")

type fakeConn struct {
	incoming chan []byte
	written  chan []byte

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		written:  make(chan []byte, 16),
		stop:     make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.incoming:
		return websocket.TextMessage, data, nil
	case <-f.stop:
		return 0, nil, errClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	if messageType == websocket.TextMessage {
		f.written <- data
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                 {}
func (f *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.stop)
	}
	return nil
}

func (f *fakeConn) sendEvent(t *testing.T, event string, data interface{}) {
	t.Helper()
	frame, err := Encode(event, data)
	require.NoError(t, err)
	f.incoming <- frame
}

func (f *fakeConn) nextEnvelope(t *testing.T) Envelope {
	t.Helper()
	select {
	case frame := <-f.written:
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return Envelope{}
	}
}

func (f *fakeConn) assertSilent(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.written:
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func bareClient(hub *Hub, id string) *Client {
	return NewClient(newFakeConn(), domain.ClinicSender(id), ClientOptions{Hub: hub, Config: config.RealtimeConfig{SendBuffer: 1}})
}

func TestHubJoinIsIdempotentAndLeaveIsNoop(t *testing.T) {
	hub := NewHub(nil, nil)
	c := bareClient(hub, "clinic-1")

	assert.True(t, hub.Join(c, "t1"))
	assert.False(t, hub.Join(c, "t1"))
	assert.Equal(t, 1, hub.Members("t1"))

	assert.False(t, hub.Leave(c, "t2"))
	assert.True(t, hub.Leave(c, "t1"))
	assert.False(t, hub.Leave(c, "t1"))
	assert.Zero(t, hub.Members("t1"))
}

func TestHubPublishReachesOnlyRoomMembers(t *testing.T) {
	hub := NewHub(nil, nil)
	a := bareClient(hub, "clinic-1")
	b := bareClient(hub, "clinic-1")
	outsider := bareClient(hub, "clinic-2")
	hub.Join(a, "t1")
	hub.Join(b, "t1")
	hub.Join(outsider, "t2")

	assert.Equal(t, 2, hub.Publish("t1", []byte("x")))
	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 1)
	assert.Empty(t, outsider.send)

	// a full buffer drops the event instead of blocking
	assert.Equal(t, 0, hub.Publish("t1", []byte("y")))
	assert.Zero(t, hub.Publish("unknown", []byte("z")))
}

func TestHubUnregisterLeavesEveryRoom(t *testing.T) {
	hub := NewHub(nil, nil)
	c := bareClient(hub, "clinic-1")
	hub.Join(c, "t1")
	hub.Join(c, "t2")

	hub.Unregister(c)
	assert.Zero(t, hub.Members("t1"))
	assert.Zero(t, hub.Members("t2"))
	assert.Empty(t, c.rooms)
}

func serveClient(t *testing.T, hub *Hub, principal domain.Sender, authorize Authorizer) (*fakeConn, *Client, chan struct{}) {
	t.Helper()
	conn := newFakeConn()
	client := NewClient(conn, principal, ClientOptions{Hub: hub, Authorize: authorize})
	done := make(chan struct{})
	go func() {
		client.Serve(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		_ = conn.Close()
		<-done
	})
	return conn, client, done
}

func TestClientJoinLeaveAndReceive(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, _, _ := serveClient(t, hub, domain.DoctorSender("doctor-1"), nil)

	conn.sendEvent(t, EventJoinChat, RoomRequest{ThreadID: "t1"})
	conn.sendEvent(t, EventJoinChat, RoomRequest{ThreadID: "t1"})
	require.Eventually(t, func() bool { return hub.Members("t1") == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish("t1", []byte(`{"event":"receive_message","data":{"id":"m1"}}`))
	env := conn.nextEnvelope(t)
	assert.Equal(t, EventReceiveMessage, env.Event)

	conn.sendEvent(t, EventLeaveChat, RoomRequest{ThreadID: "t1"})
	require.Eventually(t, func() bool { return hub.Members("t1") == 0 }, time.Second, 5*time.Millisecond)
	hub.Publish("t1", []byte(`{"event":"receive_message"}`))
	conn.assertSilent(t)
}

func TestClientRejectsUnauthorizedAndMalformedEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	deny := func(context.Context, domain.Sender, string) error {
		return apperrors.NewForbidden("access denied")
	}
	conn, _, _ := serveClient(t, hub, domain.ClinicSender("clinic-9"), deny)

	conn.sendEvent(t, EventJoinChat, RoomRequest{ThreadID: "t1"})
	env := conn.nextEnvelope(t)
	assert.Equal(t, EventError, env.Event)
	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "access denied", data.Message)
	assert.Zero(t, hub.Members("t1"))

	conn.sendEvent(t, EventJoinChat, RoomRequest{})
	assert.Equal(t, EventError, conn.nextEnvelope(t).Event)

	conn.incoming <- []byte("not json")
	assert.Equal(t, EventError, conn.nextEnvelope(t).Event)

	conn.sendEvent(t, "typing", RoomRequest{ThreadID: "t1"})
	assert.Equal(t, EventError, conn.nextEnvelope(t).Event)
}

func TestClientDisconnectLeavesRooms(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, client, done := serveClient(t, hub, domain.ClinicSender("clinic-1"), nil)

	conn.sendEvent(t, EventJoinChat, RoomRequest{ThreadID: "t1"})
	require.Eventually(t, func() bool { return hub.Members("t1") == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	<-done
	assert.Zero(t, hub.Members("t1"))
	assert.False(t, client.enqueue([]byte("late")))
}

func TestFanoutPublishesReceiveMessage(t *testing.T) {
	hub := NewHub(nil, nil)
	dispatcher := events.NewInMemoryDispatcher()
	NewFanout(NewLocalBroker(hub), nil).RegisterHandlers(dispatcher)

	sender := bareClient(hub, "clinic-1")
	hub.Join(sender, "t1")

	msg := domain.Message{
		ID:        "m1",
		ThreadID:  "t1",
		Sender:    domain.ClinicSender("clinic-1"),
		Body:      "hello",
		CreatedAt: time.Now().UTC(),
	}
	err := dispatcher.Publish(context.Background(), events.Event{
		Type:     events.EventMessageCreated,
		ThreadID: "t1",
		Payload:  events.MessageCreatedPayload{Message: msg},
	})
	require.NoError(t, err)

	require.Len(t, sender.send, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(<-sender.send, &env))
	assert.Equal(t, EventReceiveMessage, env.Event)
	var wire dto.MessageResponse
	require.NoError(t, json.Unmarshal(env.Data, &wire))
	assert.Equal(t, "m1", wire.ID)
	assert.Equal(t, domain.RoleClinic, wire.Sender.Role)
	assert.Equal(t, "hello", wire.Body)
}
