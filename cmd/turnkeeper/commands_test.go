package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/turnkeeper/config"
	"github.com/mohammad-safakhou/turnkeeper/internal/store"
	"github.com/mohammad-safakhou/turnkeeper/internal/turn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig points a config file at a fresh state file and returns both
// paths.
func writeConfig(t *testing.T) (cfgPath, statePath string) {
	t.Helper()
	dir := t.TempDir()
	statePath = filepath.Join(dir, "state.csv")
	cfgPath = filepath.Join(dir, "turnkeeper.json")
	body := fmt.Sprintf(`{"general":{"log_level":"error","log_format":"json"},"store":{"path":%q}}`, statePath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, statePath
}

func seedTurns(t *testing.T, path string, turns ...turn.Turn) {
	t.Helper()
	require.NoError(t, store.NewFileStore(path, zerolog.Nop()).Save(context.Background(), turns))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCMD()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryCommandPrintsState(t *testing.T) {
	cfgPath, statePath := writeConfig(t)
	seedTurns(t, statePath,
		turn.Turn{Query: "weather in Lisbon", Number: 1, RetrievalText: "sunny", RetrievalConfidence: 0.4},
		turn.Turn{Query: "summarize", Number: 2, RetrievalText: "sunny", SummaryText: "warm", SummaryConfidence: 0.2},
	)

	out, err := run(t, "history", "--config", cfgPath)
	require.NoError(t, err)

	var views []struct {
		Query string     `json:"query"`
		Turn  int        `json:"turn"`
		State turn.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, turn.StateSearched, views[0].State)
	assert.Equal(t, turn.StateSummarized, views[1].State)
}

func TestHistoryCommandSearch(t *testing.T) {
	cfgPath, statePath := writeConfig(t)
	seedTurns(t, statePath,
		turn.Turn{Query: "weather in Lisbon", Number: 1, RetrievalText: "sunny"},
		turn.Turn{Query: "rust compilers", Number: 2, RetrievalText: "borrow checker"},
	)

	out, err := run(t, "history", "--config", cfgPath, "--search", "Lisbon")
	require.NoError(t, err)
	assert.Contains(t, out, "weather in Lisbon")
	assert.NotContains(t, out, "rust compilers")
}

func TestInsightsCommandUnknownTurn(t *testing.T) {
	cfgPath, statePath := writeConfig(t)
	seedTurns(t, statePath, turn.Turn{Query: "q", Number: 1, RetrievalText: "r"})

	_, err := run(t, "insights", "7", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn 7 not found")
}

func TestInsightsCommandRejectsEmptyTurn(t *testing.T) {
	cfgPath, statePath := writeConfig(t)
	seedTurns(t, statePath, turn.Turn{Query: "q", Number: 1})

	_, err := run(t, "insights", "1", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

func TestInsightsCommandRequiresNumber(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := run(t, "insights", "first", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn must be a number")
}

func TestAskCommandRejectsUnknownIntent(t *testing.T) {
	cfgPath, statePath := writeConfig(t)
	_, err := run(t, "ask", "hello", "--intent", "review", "--config", cfgPath)
	require.Error(t, err)
	_, statErr := os.Stat(statePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestToolsCommandRejectsUnknownService(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := run(t, "tools", "review", "--config", cfgPath)
	require.Error(t, err)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := run(t, "history", "--config", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLockerBackend(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	t.Run("process", func(t *testing.T) {
		cfg, err := config.LoadConfig(cfgPath)
		require.NoError(t, err)
		a := &app{cfg: cfg, logger: zerolog.Nop()}
		defer a.Close()

		l, err := a.locker(context.Background())
		require.NoError(t, err)
		assert.IsType(t, &store.ProcessLocker{}, l)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg, err := config.LoadConfig(cfgPath)
		require.NoError(t, err)
		cfg.Store.Lock.Backend = "redis"
		cfg.Store.Lock.Redis.Address = "127.0.0.1:1"
		a := &app{cfg: cfg, logger: zerolog.Nop()}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = a.locker(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis connection failed")
		assert.Empty(t, a.closers)
	})
}
