package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errMockClosed = errors.New("mock connection closed")

// mockConnection is an in-memory Connection. ReadMessage blocks until a
// frame is pushed or the connection is closed.
type mockConnection struct {
	mu       sync.Mutex
	written  [][]byte
	closedCh chan struct{}
	once     sync.Once
	incoming chan []byte
	wrote    chan struct{}
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		closedCh: make(chan struct{}),
		incoming: make(chan []byte, 8),
		wrote:    make(chan struct{}, 64),
	}
}

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.closedCh:
		return errMockClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	m.mu.Lock()
	m.written = append(m.written, append([]byte(nil), data...))
	m.mu.Unlock()
	select {
	case m.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.incoming:
		return websocket.TextMessage, msg, nil
	case <-m.closedCh:
		return 0, nil, errMockClosed
	}
}

func (m *mockConnection) Close() error {
	m.once.Do(func() { close(m.closedCh) })
	return nil
}

func (m *mockConnection) SetReadDeadline(time.Time) error   { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetReadLimit(int64)                {}
func (m *mockConnection) SetPongHandler(func(string) error) {}
func (m *mockConnection) RemoteAddr() string                { return "127.0.0.1:9000" }

func (m *mockConnection) messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *mockConnection) isClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}
