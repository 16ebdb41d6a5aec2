package backend

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	ret := m.Called(ctx, name, args, stdin)
	out, _ := ret.Get(0).([]byte)
	errOut, _ := ret.Get(1).([]byte)
	return out, errOut, ret.Error(2)
}

func TestExecutor_ExecuteAppliesTimeout(t *testing.T) {
	runner := new(MockRunner)
	stdin := strings.NewReader("hello")

	runner.On("Run",
		mock.MatchedBy(func(ctx context.Context) bool {
			deadline, ok := ctx.Deadline()
			return ok && time.Until(deadline) <= time.Minute
		}),
		"/usr/bin/piper",
		[]string{"--model", "m.onnx"},
		stdin,
	).Return([]byte("out"), []byte(""), nil).Once()

	exec := NewExecutorWithRunner("/usr/bin/piper", time.Minute, runner)
	stdout, _, err := exec.Execute(context.Background(), []string{"--model", "m.onnx"}, stdin)
	require.NoError(t, err)
	assert.Equal(t, "out", string(stdout))
	assert.Equal(t, "/usr/bin/piper", exec.BinaryPath())

	runner.AssertExpectations(t)
}

func TestNewExecutor_MissingBinary(t *testing.T) {
	_, err := NewExecutor("ttsd-definitely-missing-binary", time.Second)
	assert.ErrorContains(t, err, "binary not found")
}
