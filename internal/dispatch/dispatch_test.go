package dispatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianhouk/duplicity-recovery-tools/internal/assemble"
	"github.com/brianhouk/duplicity-recovery-tools/internal/bufpool"
	"github.com/brianhouk/duplicity-recovery-tools/internal/fragment"
	"github.com/brianhouk/duplicity-recovery-tools/internal/logging"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// readTree maps every regular file under root to its contents.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func scenarioTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	files := map[string]string{
		"a/0":          "AA",
		"a/1":          "BB",
		"a/2":          "CC",
		"b/c/5":        "X",
		"b/c/10":       "Y",
		"b/c/1":        "Z",
		"docs/readme":  "r",
		"docs/notes":   "n",
		"mixed/2":      "two",
		"mixed/1":      "one",
		"mixed/README": "ignored",
	}
	for i := 0; i < 23; i++ {
		for j := 0; j < 3; j++ {
			files[fmt.Sprintf("many/g%02d/%d", i, j)] = fmt.Sprintf("%d-%d;", i, j)
		}
	}
	writeFiles(t, src, files)
	return src
}

func run(t *testing.T, src, out string, workers int, dryRun bool) []assemble.Outcome {
	t.Helper()
	logger := logging.Discard()
	groups, err := fragment.Locate(context.Background(), src, logger)
	require.NoError(t, err)

	runner := assemble.NewRunner(assemble.Options{OutputRoot: out, DryRun: dryRun}, bufpool.New(2), logger)
	d := New(Config{Workers: workers, OutputRoot: out, DryRun: dryRun}, runner, logger)
	outcomes, err := d.Run(context.Background(), groups)
	require.NoError(t, err)
	require.Len(t, outcomes, len(groups))
	return outcomes
}

func TestScenarioOutput(t *testing.T) {
	src := scenarioTree(t)
	out := filepath.Join(t.TempDir(), "out")

	outcomes := run(t, src, out, 1, false)
	for _, o := range outcomes {
		assert.True(t, o.Success, o.Message)
	}

	tree := readTree(t, out)
	assert.Equal(t, "AABBCC", tree["a"])
	assert.Equal(t, "ZXY", tree["b/c"])
	assert.Equal(t, "onetwo", tree["mixed"])
	assert.Equal(t, "7-0;7-1;7-2;", tree["many/g07"])
	assert.NotContains(t, tree, "docs")
	assert.Len(t, tree, 3+23)
}

func TestSequentialAndParallelMatch(t *testing.T) {
	src := scenarioTree(t)
	seqOut := filepath.Join(t.TempDir(), "seq")
	parOut := filepath.Join(t.TempDir(), "par")

	run(t, src, seqOut, 1, false)
	outcomes := run(t, src, parOut, 4, false)

	for _, o := range outcomes {
		assert.True(t, o.Success, o.Message)
	}
	assert.Equal(t, readTree(t, seqOut), readTree(t, parOut))
}

func TestParallelOutcomesKeepGroupOrder(t *testing.T) {
	src := scenarioTree(t)
	groups, err := fragment.Locate(context.Background(), src, logging.Discard())
	require.NoError(t, err)

	outcomes := run(t, src, filepath.Join(t.TempDir(), "out"), 4, false)
	for i, o := range outcomes {
		assert.Equal(t, groups[i].Path, o.Group.Path)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	src := scenarioTree(t)
	dryOut := filepath.Join(t.TempDir(), "dry")
	liveOut := filepath.Join(t.TempDir(), "live")

	dry := run(t, src, dryOut, 4, true)
	assert.NoDirExists(t, dryOut)

	live := run(t, src, liveOut, 4, false)
	require.Len(t, dry, len(live))
	for i := range dry {
		assert.True(t, dry[i].Success, dry[i].Message)
		assert.Equal(t, live[i].Fragments, dry[i].Fragments, dry[i].Group.RelPath)
		assert.Equal(t, live[i].Bytes, dry[i].Bytes, dry[i].Group.RelPath)
	}
}

func TestZeroGroups(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	d := New(Config{Workers: 4, OutputRoot: out}, nil, logging.Discard())
	outcomes, err := d.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.NoDirExists(t, out)
}

func TestOutputRootFailureIsFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	d := New(Config{Workers: 2, OutputRoot: filepath.Join(blocker, "out")}, nil, logging.Discard())
	_, err := d.Run(context.Background(), []fragment.LeafGroup{{Path: "/x", RelPath: "x"}})
	require.Error(t, err)
}

// fakeTask records concurrency and fails selected groups.
type fakeTask struct {
	active  atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	seen    map[string]int
	failing map[string]bool
	delay   time.Duration
}

func (f *fakeTask) Run(group fragment.LeafGroup) assemble.Outcome {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.seen[group.RelPath]++
	f.mu.Unlock()

	if f.failing[group.RelPath] {
		return assemble.Outcome{Group: group, Message: "Error: boom", Err: fmt.Errorf("boom")}
	}
	return assemble.Outcome{Group: group, Success: true, Fragments: 1, Bytes: 1}
}

func fakeGroups(n int) []fragment.LeafGroup {
	groups := make([]fragment.LeafGroup, n)
	for i := range groups {
		rel := fmt.Sprintf("g%03d", i)
		groups[i] = fragment.LeafGroup{Path: "/src/" + rel, RelPath: rel}
	}
	return groups
}

func TestParallelRunsEachGroupOnceWithinWorkerBound(t *testing.T) {
	task := &fakeTask{seen: map[string]int{}, failing: map[string]bool{"g003": true, "g017": true}, delay: time.Millisecond}
	groups := fakeGroups(40)

	d := New(Config{Workers: 3, OutputRoot: t.TempDir()}, task, logging.Discard())
	outcomes, err := d.Run(context.Background(), groups)
	require.NoError(t, err)
	require.Len(t, outcomes, 40)

	assert.LessOrEqual(t, task.peak.Load(), int32(3))
	for _, g := range groups {
		assert.Equal(t, 1, task.seen[g.RelPath], g.RelPath)
	}
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	assert.Equal(t, 2, failed, "one failing group must not affect its siblings")
}

func TestInterruptedSequential(t *testing.T) {
	task := &fakeTask{seen: map[string]int{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(Config{Workers: 1, OutputRoot: t.TempDir()}, task, logging.Discard())
	outcomes, err := d.Run(ctx, fakeGroups(5))
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, outcomes)
}

func TestInterruptedParallel(t *testing.T) {
	task := &fakeTask{seen: map[string]int{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(Config{Workers: 4, OutputRoot: t.TempDir()}, task, logging.Discard())
	outcomes, err := d.Run(ctx, fakeGroups(200))
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Less(t, len(outcomes), 200)
	for _, o := range outcomes {
		assert.True(t, o.Success)
	}
}

func TestWorkersClampedToOne(t *testing.T) {
	task := &fakeTask{seen: map[string]int{}}
	d := New(Config{Workers: 0, OutputRoot: t.TempDir()}, task, logging.Discard())
	outcomes, err := d.Run(context.Background(), fakeGroups(3))
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
	assert.Equal(t, int32(1), task.peak.Load())
}
