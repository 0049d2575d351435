package worker

import (
	"context"
	"testing"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorCapturesOutput(t *testing.T) {
	e := NewExecutor("/bin/bash")
	cmd := &types.Command{ID: "r1", Command: "echo {01..03}; echo oops >&2", Index: 2, Total: 4, Sum: true}

	res, err := e.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, types.KindResult, res.Kind)
	assert.Equal(t, "r1", res.ID)
	assert.Equal(t, 2, res.Index)
	assert.Equal(t, 4, res.Total)
	assert.True(t, res.Sum)
	assert.Equal(t, "01 02 03\n", res.Stdout, "commands need bash brace expansion")
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Zero(t, res.ExitStatus)
	assert.GreaterOrEqual(t, res.ElapsedTime, 0.0)
}

func TestExecutorNonzeroExitIsData(t *testing.T) {
	res, err := NewExecutor("/bin/bash").Execute(context.Background(), &types.Command{ID: "r1", Command: "exit 3", Total: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitStatus)
}

func TestExecutorLaunchFailure(t *testing.T) {
	_, err := NewExecutor("/nonexistent/bash").Execute(context.Background(), &types.Command{ID: "r1", Command: "true", Total: 1})
	require.Error(t, err)
	assert.Equal(t, herrors.ErrCategorySubprocess, herrors.GetCategory(err))
	assert.Equal(t, herrors.CodeLaunchFailed, herrors.GetCode(err))
}
