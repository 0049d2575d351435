package query

import (
	"fmt"
	"strings"

	"github.com/hayabusa-search/hayabusa/internal/config"
)

// sumReducer adds up one integer per input line.
const sumReducer = ` | awk '{m+=$1} END{print m;}'`

// Params are the search options of one submission.
type Params struct {
	Match string
	Count bool
	Sum   bool
	Exact bool
}

// Builder turns planner entries into shell commands for one engine.
type Builder struct {
	engine       config.Engine
	nativeBinary string
	concurrency  int
}

// NewBuilder creates a command builder from the search configuration.
func NewBuilder(cfg config.SearchConfig) *Builder {
	return &Builder{
		engine:       cfg.Engine,
		nativeBinary: cfg.NativeBinary,
		concurrency:  cfg.Concurrency,
	}
}

// Commands returns one command per planner entry, in entry order. Sum only
// applies to counts and is ignored otherwise.
func (b *Builder) Commands(entries []string, params Params) []string {
	sum := params.Count && params.Sum
	quoted := ShellQuote(Statement(params.Match, params.Count, params.Exact))

	cmds := make([]string, 0, len(entries))
	for _, entry := range entries {
		cmds = append(cmds, b.command(entry, quoted, sum))
	}
	return cmds
}

func (b *Builder) command(entry, quotedSQL string, sum bool) string {
	if b.engine == config.EngineNative {
		var sb strings.Builder
		sb.WriteString(ShellQuote(b.nativeBinary))
		sb.WriteString(" --sql ")
		sb.WriteString(quotedSQL)
		if b.concurrency > 0 {
			fmt.Fprintf(&sb, " --concurrency %d", b.concurrency)
		}
		if sum {
			sb.WriteString(" --sum")
		}
		sb.WriteString(" ")
		sb.WriteString(entry)
		return sb.String()
	}

	cmd := fmt.Sprintf("parallel sqlite3 ::: %s ::: %s", entry, quotedSQL)
	if sum {
		cmd += sumReducer
	}
	return cmd
}
