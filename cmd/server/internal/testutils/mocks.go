package testutils

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MockConn simulates a connected websocket client. It records every
// payload in delivery order and can decode them for assertions.
type MockConn struct {
	IDVal  string
	Mu     sync.Mutex
	Sent   []string
	Closed bool
}

func NewMockConn(id string) *MockConn {
	return &MockConn{IDVal: id}
}

func (m *MockConn) ID() string { return m.IDVal }

func (m *MockConn) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockConn) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Sent = append(m.Sent, string(b))
}

// Count returns how many payloads were delivered.
func (m *MockConn) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Sent)
}

// Message decodes the i-th delivered payload into a generic map.
func (m *MockConn) Message(i int) map[string]interface{} {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if i < 0 || i >= len(m.Sent) {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(m.Sent[i]), &out); err != nil {
		return nil
	}
	return out
}

// Types returns the "type" field of every delivered payload in order.
func (m *MockConn) Types() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []string
	for _, raw := range m.Sent {
		var env struct {
			Type string `json:"type"`
		}
		json.Unmarshal([]byte(raw), &env)
		out = append(out, env.Type)
	}
	return out
}

// MockKafkaReader replays a fixed message sequence, then reports
// DeadlineExceeded to stop consumer loops cleanly in tests.
type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	Closed   bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}
	if m.Index >= len(m.Messages) {
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// FixedRand always returns the same value from Float64, pinning the
// price walk for deterministic tests.
type FixedRand struct {
	Val float64
}

func (r FixedRand) Float64() float64 { return r.Val }
