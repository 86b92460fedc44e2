package services

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"
)

// MockBroadcaster is a mock for the Broadcaster interface
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, msgType string, data any) bool {
	args := m.Called(ctx, msgType, data)
	return args.Bool(0)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type fixedClients int

func (n fixedClients) ClientCount() int { return int(n) }
