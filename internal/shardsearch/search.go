package shardsearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/hayabusa-search/hayabusa/internal/sharding"
)

// maxExitStatus caps the exit status the way GNU parallel caps its count
// of failed jobs.
const maxExitStatus = 101

// Options control one search.
type Options struct {
	// SQL is the statement run against every shard
	SQL string

	// Sum prints the total of the first column of every row instead of
	// the rows
	Sum bool

	// Concurrency is the number of shards queried at once
	Concurrency int
}

// Searcher runs statements over shard files.
type Searcher struct {
	pool *Pool
}

// NewSearcher creates a searcher over pool.
func NewSearcher(pool *Pool) *Searcher {
	return &Searcher{pool: pool}
}

type shardOutput struct {
	stdout bytes.Buffer
	stderr string
	sum    int64
	failed bool
}

// Search queries every shard named by args. Each arg is a path or a shard
// pattern; a pattern matching nothing is queried literally and fails like
// a missing file. Output is written in shard order. The returned exit
// status is the number of failed shards.
func (s *Searcher) Search(ctx context.Context, args []string, opts Options, stdout, stderr io.Writer) (int, error) {
	paths, err := resolve(args)
	if err != nil {
		return 0, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	outputs := make([]*shardOutput, len(paths))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outputs[idx] = &shardOutput{stderr: fmt.Sprintf("Error: %v\n", ctx.Err()), failed: true}
				return
			}
			outputs[idx] = s.searchShard(ctx, path, opts)
		}(i, path)
	}
	wg.Wait()

	failed := 0
	var total int64
	for _, out := range outputs {
		if out.failed {
			failed++
		}
		if opts.Sum {
			total += out.sum
		} else if _, err := stdout.Write(out.stdout.Bytes()); err != nil {
			return 0, err
		}
		if out.stderr != "" {
			if _, err := io.WriteString(stderr, out.stderr); err != nil {
				return 0, err
			}
		}
	}
	if opts.Sum {
		if _, err := fmt.Fprintf(stdout, "%d\n", total); err != nil {
			return 0, err
		}
	}
	return min(failed, maxExitStatus), nil
}

func (s *Searcher) searchShard(ctx context.Context, path string, opts Options) *shardOutput {
	out := &shardOutput{}

	db, err := s.pool.Get(ctx, path)
	if err != nil {
		out.stderr = fmt.Sprintf("Error: unable to open database %q: %v\n", path, err)
		out.failed = true
		return out
	}
	defer s.pool.Release(path)

	rows, err := db.QueryContext(ctx, opts.SQL)
	if err != nil {
		out.stderr = fmt.Sprintf("Error: %s: %v\n", path, err)
		out.failed = true
		return out
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		out.stderr = fmt.Sprintf("Error: %s: %v\n", path, err)
		out.failed = true
		return out
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	fields := make([]string, len(columns))

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			out.stderr = fmt.Sprintf("Error: %s: %v\n", path, err)
			out.failed = true
			return out
		}
		for i, v := range values {
			fields[i] = render(v)
			values[i] = nil
		}
		if opts.Sum {
			if len(fields) > 0 {
				out.sum += leadingInt(fields[0])
			}
			continue
		}
		out.stdout.WriteString(strings.Join(fields, "|"))
		out.stdout.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		out.stderr = fmt.Sprintf("Error: %s: %v\n", path, err)
		out.failed = true
	}
	return out
}

// resolve expands args into shard paths in order, dropping duplicates.
func resolve(args []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, arg := range args {
		matches, err := sharding.Glob(arg)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			matches = []string{arg}
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				paths = append(paths, m)
			}
		}
	}
	return paths, nil
}

// render formats a column value like the sqlite3 shell in list mode.
func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

// leadingInt parses the integer prefix of s, as awk does for $1. Anything
// without one counts as zero.
func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
