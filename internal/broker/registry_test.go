package broker

import (
	"testing"
	"time"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t0 time.Time) func() time.Time {
	return func() time.Time { return t0 }
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()
	t0 := time.Date(2018, 8, 1, 3, 5, 0, 0, time.UTC)
	reg.now = fixedClock(t0)

	rec, err := reg.Create("r1", "alice", "127.0.0.1", 9000)
	require.NoError(t, err)
	assert.Equal(t, StatusReceivedRequest, rec.Status)
	assert.Equal(t, t0, rec.Created)
	assert.Equal(t, t0, rec.Updated)
	assert.Nil(t, rec.Result)

	_, err = reg.Create("r1", "bob", "127.0.0.1", 9001)
	assert.Equal(t, herrors.CodeDuplicateRequest, herrors.GetCode(err))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryUnknownRequest(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Snapshot("missing")
	assert.Equal(t, herrors.CodeUnknownRequest, herrors.GetCode(err))

	_, err = reg.Advance("missing", StatusCollectingResults, nil)
	assert.Equal(t, herrors.CodeUnknownRequest, herrors.GetCode(err))

	assert.False(t, reg.Delete("missing"))
}

func TestRegistryTransitions(t *testing.T) {
	all := []Status{
		StatusReceivedRequest, StatusCollectingResults, StatusReceivedAllResults,
		StatusSentResult, StatusTimeoutError, StatusRequestError,
	}
	allowed := map[Status]map[Status]bool{
		StatusReceivedRequest: {
			StatusCollectingResults: true, StatusReceivedAllResults: true,
			StatusTimeoutError: true, StatusRequestError: true,
		},
		StatusCollectingResults: {
			StatusCollectingResults: true, StatusReceivedAllResults: true, StatusTimeoutError: true,
		},
		StatusReceivedAllResults: {StatusSentResult: true},
	}

	// path from ReceivedRequest to each status
	paths := map[Status][]Status{
		StatusReceivedRequest:    nil,
		StatusCollectingResults:  {StatusCollectingResults},
		StatusReceivedAllResults: {StatusReceivedAllResults},
		StatusSentResult:         {StatusReceivedAllResults, StatusSentResult},
		StatusTimeoutError:       {StatusTimeoutError},
		StatusRequestError:       {StatusRequestError},
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(from.String()+"->"+to.String(), func(t *testing.T) {
				reg := NewRegistry()
				_, err := reg.Create("r", "alice", "localhost", 1)
				require.NoError(t, err)
				for _, step := range paths[from] {
					_, err := reg.Advance("r", step, nil)
					require.NoError(t, err)
				}

				_, err = reg.Advance("r", to, nil)
				switch {
				case allowed[from][to]:
					assert.NoError(t, err)
				case from.Terminal():
					assert.Equal(t, herrors.CodeTerminalRequest, herrors.GetCode(err))
				default:
					assert.Equal(t, herrors.CodeIllegalTransition, herrors.GetCode(err))
				}

				rec, err := reg.Snapshot("r")
				require.NoError(t, err)
				if !allowed[from][to] {
					assert.Equal(t, from, rec.Status, "rejected transition must not change the record")
				}
			})
		}
	}
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "alice", "localhost", 1)
	require.NoError(t, err)

	progress := []string{"web01-Process-1", ""}
	_, err = reg.Advance("r1", StatusCollectingResults, &Data{Progress: progress})
	require.NoError(t, err)
	progress[0] = "mutated"

	snap, err := reg.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, "web01-Process-1", snap.Progress[0])

	snap.Progress[1] = "also mutated"
	again, _ := reg.Snapshot("r1")
	assert.Equal(t, "", again.Progress[1])

	final := &types.Delivery{ID: "r1", Stdout: "done"}
	_, err = reg.Advance("r1", StatusReceivedAllResults, &Data{Progress: again.Progress, Result: final})
	require.NoError(t, err)
	final.Stdout = "changed"
	again, _ = reg.Snapshot("r1")
	assert.Equal(t, "done", again.Result.Stdout)
}

func TestRegistryAdvanceKeepsPayloadWithoutData(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Create("r1", "alice", "localhost", 1)
	require.NoError(t, err)
	_, err = reg.Advance("r1", StatusReceivedAllResults, &Data{Result: &types.Delivery{ID: "r1", Stdout: "42"}})
	require.NoError(t, err)

	rec, err := reg.Advance("r1", StatusSentResult, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", rec.Result.Stdout)
	assert.True(t, rec.Status.Terminal())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ReceivedAllResults", StatusReceivedAllResults.String())
	assert.Equal(t, "Unknown", Status(42).String())
}
