package transporter

import (
	"github.com/stretchr/testify/mock"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Receive() (MessageType, []byte, error) {
	args := m.Called()
	data, _ := args.Get(1).([]byte)
	return args.Get(0).(MessageType), data, args.Error(2)
}

func (m *MockChannel) Send(messageType MessageType, data []byte) error {
	args := m.Called(messageType, data)
	return args.Error(0)
}

func (m *MockChannel) Close(code int, reason string) error {
	args := m.Called(code, reason)
	return args.Error(0)
}

func (m *MockChannel) Abort() {
	m.Called()
}

func (m *MockChannel) CloseFrame() (int, string, bool) {
	args := m.Called()
	return args.Int(0), args.String(1), args.Bool(2)
}

func (m *MockChannel) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}
