package worker

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os/exec"
	"time"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// Executor runs command lines through bash.
type Executor struct {
	bashPath string
}

// NewExecutor creates an executor using the bash binary at bashPath.
func NewExecutor(bashPath string) *Executor {
	return &Executor{bashPath: bashPath}
}

// Execute runs cmd to completion and returns its result. A nonzero exit
// status is part of the result, not an error; only a failure to launch the
// shell is returned as an error.
func (e *Executor) Execute(ctx context.Context, cmd *types.Command) (*types.Result, error) {
	c := exec.CommandContext(ctx, e.bashPath, "-c", cmd.Command)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	exitStatus := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, herrors.NewSubprocessError("launching "+e.bashPath, err)
		}
		exitStatus = exitErr.ExitCode()
		if exitStatus < 0 {
			// killed by a signal
			exitStatus = 1
		}
	}

	return &types.Result{
		Kind:        types.KindResult,
		ID:          cmd.ID,
		Index:       cmd.Index,
		Total:       cmd.Total,
		Sum:         cmd.Sum,
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		ExitStatus:  exitStatus,
		ElapsedTime: math.Round(elapsed.Seconds()*1000) / 1000,
	}, nil
}
