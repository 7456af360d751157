package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janwilmake/cursordo/domain"
)

type mockConn struct {
	received [][]byte
	closed   bool
	mu       sync.Mutex
	sendErr  error
	// failAfter makes Send fail once this many messages were accepted.
	failAfter int
}

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.failAfter > 0 && len(m.received) >= m.failAfter {
		return domain.ErrSendBufferFull
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) messages(t *testing.T) []domain.ServerMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ServerMessage, 0, len(m.received))
	for _, data := range m.received {
		var msg domain.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		out = append(out, msg)
	}
	return out
}

func (m *mockConn) ofType(t *testing.T, typ string) []domain.ServerMessage {
	t.Helper()
	var out []domain.ServerMessage
	for _, msg := range m.messages(t) {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("s%d", n.Add(1)) }
}

func newTestRoom(t *testing.T, opts ...Option) *Room {
	t.Helper()
	hue := 0
	opts = append([]Option{
		WithIDGenerator(sequentialIDs()),
		WithColorPicker(func() string {
			hue += 30
			return HueColor(hue)
		}),
	}, opts...)
	r := NewRoom("test", opts...)
	t.Cleanup(r.Stop)
	return r
}

func join(t *testing.T, r *Room) (string, *mockConn) {
	t.Helper()
	conn := &mockConn{}
	id, err := r.Join(conn)
	require.NoError(t, err)
	return id, conn
}

// settle waits until every event queued so far has been applied.
func settle(t *testing.T, r *Room) map[string]domain.Cursor {
	t.Helper()
	snap, err := r.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestRoom_JoinSendsInit(t *testing.T) {
	r := newTestRoom(t)

	id, conn := join(t, r)

	msgs := conn.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.TypeInit, msgs[0].Type)
	assert.Equal(t, id, msgs[0].SessionID)
	assert.Empty(t, msgs[0].Cursors)
	assert.Equal(t, 1, r.Len())
}

func TestRoom_JoinDoesNotBroadcast(t *testing.T) {
	r := newTestRoom(t)
	_, first := join(t, r)

	join(t, r)
	settle(t, r)

	assert.Len(t, first.messages(t), 1, "only the init frame")
}

func TestRoom_JoinRegeneratesCollidingID(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var i int
	r := newTestRoom(t, WithIDGenerator(func() string {
		id := ids[i]
		i++
		return id
	}))

	first, _ := join(t, r)
	second, _ := join(t, r)

	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second)
}

func TestRoom_JoinInitSendFailure(t *testing.T) {
	r := newTestRoom(t)
	_, other := join(t, r)

	_, err := r.Join(&mockConn{sendErr: domain.ErrSendBufferFull})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSendBufferFull))
	settle(t, r)
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, other.ofType(t, domain.TypeLeave))
}

func TestRoom_SnapshotCompleteness(t *testing.T) {
	r := newTestRoom(t)

	want := map[string]domain.Cursor{}
	for i := 0; i < 3; i++ {
		id, _ := join(t, r)
		r.UpdateCursor(id, float64(i), float64(i*10))
		r.UpdateCursor(id, float64(i+100), float64(i+200))
		snap := settle(t, r)
		want[id] = domain.Cursor{X: float64(i + 100), Y: float64(i + 200), Color: snap[id].Color}
	}

	_, newcomer := join(t, r)

	inits := newcomer.ofType(t, domain.TypeInit)
	require.Len(t, inits, 1)
	assert.Equal(t, want, inits[0].Cursors)
}

func TestRoom_SnapshotIsACopy(t *testing.T) {
	r := newTestRoom(t)
	id, _ := join(t, r)
	r.UpdateCursor(id, 1, 1)

	snap := settle(t, r)
	snap[id] = domain.Cursor{X: 99}
	delete(snap, id)

	again := settle(t, r)
	assert.Equal(t, float64(1), again[id].X)
}

func TestRoom_UpdateExcludesSender(t *testing.T) {
	r := newTestRoom(t)
	a, connA := join(t, r)
	_, connB := join(t, r)
	_, connC := join(t, r)

	r.UpdateCursor(a, 10, 20)
	settle(t, r)

	assert.Empty(t, connA.ofType(t, domain.TypeCursor))
	for _, conn := range []*mockConn{connB, connC} {
		got := conn.ofType(t, domain.TypeCursor)
		require.Len(t, got, 1)
		assert.Equal(t, a, got[0].SessionID)
		assert.Equal(t, float64(10), got[0].X)
		assert.Equal(t, float64(20), got[0].Y)
		assert.NotEmpty(t, got[0].Color)
	}
}

func TestRoom_UpdateUnknownSessionIgnored(t *testing.T) {
	r := newTestRoom(t)
	_, conn := join(t, r)

	r.UpdateCursor("ghost", 1, 2)
	snap := settle(t, r)

	assert.Empty(t, snap)
	assert.Len(t, conn.messages(t), 1)
}

func TestRoom_LeavePropagation(t *testing.T) {
	r := newTestRoom(t)
	a, _ := join(t, r)
	_, connB := join(t, r)
	_, connC := join(t, r)
	r.UpdateCursor(a, 5, 5)

	r.Leave(a)
	settle(t, r)

	for _, conn := range []*mockConn{connB, connC} {
		leaves := conn.ofType(t, domain.TypeLeave)
		require.Len(t, leaves, 1)
		assert.Equal(t, a, leaves[0].SessionID)
	}

	_, newcomer := join(t, r)
	inits := newcomer.ofType(t, domain.TypeInit)
	require.Len(t, inits, 1)
	assert.NotContains(t, inits[0].Cursors, a)
}

func TestRoom_LeaveIsIdempotent(t *testing.T) {
	r := newTestRoom(t)
	a, _ := join(t, r)
	_, connB := join(t, r)

	r.Leave(a)
	r.Leave(a)
	r.Leave("never-joined")
	settle(t, r)

	assert.Len(t, connB.ofType(t, domain.TypeLeave), 1)
	assert.Equal(t, 1, r.Len())
}

func TestRoom_UpdateAfterLeaveDropped(t *testing.T) {
	r := newTestRoom(t)
	a, _ := join(t, r)
	_, connB := join(t, r)

	r.Leave(a)
	r.UpdateCursor(a, 1, 1)
	snap := settle(t, r)

	assert.NotContains(t, snap, a)
	assert.Empty(t, connB.ofType(t, domain.TypeCursor))
}

func TestRoom_ColorStability(t *testing.T) {
	r := newTestRoom(t)
	a, _ := join(t, r)
	_, observer := join(t, r)

	for i := 0; i < 5; i++ {
		r.UpdateCursor(a, float64(i), float64(i))
	}
	settle(t, r)
	_, late := join(t, r)

	cursors := observer.ofType(t, domain.TypeCursor)
	require.Len(t, cursors, 5)
	color := cursors[0].Color
	for _, msg := range cursors {
		assert.Equal(t, color, msg.Color)
	}
	inits := late.ofType(t, domain.TypeInit)
	require.Len(t, inits, 1)
	assert.Equal(t, color, inits[0].Cursors[a].Color)
}

func TestRoom_SendFailureEvictsAndAnnounces(t *testing.T) {
	r := newTestRoom(t)
	a, _ := join(t, r)
	bad := &mockConn{failAfter: 1}
	badID, err := r.Join(bad)
	require.NoError(t, err)
	_, good := join(t, r)

	r.UpdateCursor(badID, 1, 1)
	r.UpdateCursor(a, 2, 3)
	snap := settle(t, r)

	assert.True(t, bad.isClosed())
	assert.NotContains(t, snap, badID)
	assert.Equal(t, 2, r.Len())

	cursors := good.ofType(t, domain.TypeCursor)
	require.Len(t, cursors, 2)
	assert.Equal(t, badID, cursors[0].SessionID)
	assert.Equal(t, a, cursors[1].SessionID)

	leaves := good.ofType(t, domain.TypeLeave)
	require.Len(t, leaves, 1)
	assert.Equal(t, badID, leaves[0].SessionID)
}

func TestRoom_EvictionCascadeIsBounded(t *testing.T) {
	r := newTestRoom(t)
	sender, _ := join(t, r)
	var failing []*mockConn
	for i := 0; i < 4; i++ {
		conn := &mockConn{failAfter: 1}
		_, err := r.Join(conn)
		require.NoError(t, err)
		failing = append(failing, conn)
	}
	_, good := join(t, r)

	r.UpdateCursor(sender, 1, 1)
	settle(t, r)

	for _, conn := range failing {
		assert.True(t, conn.isClosed())
	}
	assert.Equal(t, 2, r.Len())
	assert.Len(t, good.ofType(t, domain.TypeLeave), 4)
}

func TestRoom_TotalOrder(t *testing.T) {
	r := newTestRoom(t)
	a, _ := join(t, r)
	b, _ := join(t, r)
	var observers []*mockConn
	for i := 0; i < 3; i++ {
		_, conn := join(t, r)
		observers = append(observers, conn)
	}

	var wg sync.WaitGroup
	for _, id := range []string{a, b} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.UpdateCursor(id, float64(i), 0)
			}
		}(id)
	}
	wg.Wait()
	settle(t, r)

	order := func(conn *mockConn) []string {
		var seq []string
		for _, msg := range conn.ofType(t, domain.TypeCursor) {
			seq = append(seq, fmt.Sprintf("%s:%v", msg.SessionID, msg.X))
		}
		return seq
	}
	want := order(observers[0])
	require.Len(t, want, 100)
	for _, conn := range observers[1:] {
		assert.Equal(t, want, order(conn))
	}
}

func TestRoom_StopClosesConnections(t *testing.T) {
	r := NewRoom("test")
	conn := &mockConn{}
	_, err := r.Join(conn)
	require.NoError(t, err)

	r.Stop()
	r.Stop()

	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, r.Len())
	_, err = r.Join(&mockConn{})
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
	_, err = r.Snapshot()
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestHueColor(t *testing.T) {
	tests := []struct {
		hue  int
		want string
	}{
		{hue: 0, want: "hsl(0, 70%, 50%)"},
		{hue: 210, want: "hsl(210, 70%, 50%)"},
		{hue: 360, want: "hsl(0, 70%, 50%)"},
		{hue: -30, want: "hsl(330, 70%, 50%)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HueColor(tt.hue))
		})
	}
}
