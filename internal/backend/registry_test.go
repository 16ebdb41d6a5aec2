package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mock types ---

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() Provider {
	args := m.Called()
	return args.Get(0).(Provider)
}

func (m *MockBackend) Device() Device {
	args := m.Called()
	return args.Get(0).(Device)
}

func (m *MockBackend) SampleRate() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockBackend) Voices() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockBackend) Infer(ctx context.Context, req *Request) (*Response, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Tests ---

func TestRegistry_RegisterAndOpen(t *testing.T) {
	reg := NewRegistry()
	mockBackend := new(MockBackend)

	var got Options
	require.NoError(t, reg.Register(ProviderONNX, func(_ context.Context, opts Options) (Backend, error) {
		got = opts
		return mockBackend, nil
	}))

	b, err := reg.Open(context.Background(), ProviderONNX, Options{ModelID: "kokoro", Device: DeviceCPU})
	require.NoError(t, err)
	assert.Equal(t, mockBackend, b)
	assert.Equal(t, "kokoro", got.ModelID)
	assert.Equal(t, DeviceCPU, got.Device)
}

func TestRegistry_OpenMissing(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Open(context.Background(), ProviderPiper, Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RegisterTwice(t *testing.T) {
	reg := NewRegistry()
	f := func(context.Context, Options) (Backend, error) { return nil, nil }

	require.NoError(t, reg.Register(ProviderPiper, f))
	assert.ErrorIs(t, reg.Register(ProviderPiper, f), ErrAlreadyRegistered)
}

func TestRegistry_FactoryErrorPropagation(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("open failed")

	require.NoError(t, reg.Register(ProviderONNX, func(context.Context, Options) (Backend, error) {
		return nil, boom
	}))

	_, err := reg.Open(context.Background(), ProviderONNX, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_Providers(t *testing.T) {
	reg := NewRegistry()
	f := func(context.Context, Options) (Backend, error) { return new(MockBackend), nil }

	require.NoError(t, reg.Register(ProviderPiper, f))
	require.NoError(t, reg.Register(ProviderONNX, f))

	assert.Equal(t, []Provider{ProviderONNX, ProviderPiper}, reg.Providers())
}

func TestParseDevice(t *testing.T) {
	for in, want := range map[string]Device{"": DeviceAuto, "auto": DeviceAuto, "cuda": DeviceCUDA, "cpu": DeviceCPU} {
		got, err := ParseDevice(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseDevice("tpu")
	assert.Error(t, err)
}
