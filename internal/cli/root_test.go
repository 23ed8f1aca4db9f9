package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zwboot/internal/app"
	"zwboot/internal/retention"
	"zwboot/internal/wake"
	logx "zwboot/pkg/logx"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "zwboot", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "status", "sleep"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	sleepCmd, _, err := cmd.Find([]string{"sleep"})
	require.NoError(t, err)
	assert.NotNil(t, sleepCmd.Flags().Lookup("duration"))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "zwboot.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "status", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "status", "--config", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSleepThenStatus(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, `
logging:
  level: error
retention:
  driver: file
  path: `+filepath.Join(dir, "zwboot.ret")+`
`)

	out, err := execute(t, "status", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "no completed sleep cycle")

	out, err = execute(t, "sleep", "--config", p, "--duration", "15ms")
	require.NoError(t, err)
	assert.Contains(t, out, "woken by:  rtcc timeout")

	out, err = execute(t, "status", "--config", p, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Completed   bool   `json:"completed"`
			WokenByRtcc bool   `json:"woken_by_rtcc"`
			SleptMs     uint32 `json:"slept_ms"`
			Cycles      uint32 `json:"cycles"`
			Driver      string `json:"driver"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Completed)
	assert.True(t, resp.Data.WokenByRtcc)
	assert.GreaterOrEqual(t, resp.Data.SleptMs, uint32(14))
	assert.Equal(t, uint32(1), resp.Data.Cycles)
	assert.Equal(t, "file", resp.Data.Driver)
}

func TestStatusWhileAsleep(t *testing.T) {
	dir := t.TempDir()
	retPath := filepath.Join(dir, "zwboot.ret")
	p := writeConfig(t, `
logging:
  level: error
retention:
  driver: file
  path: `+retPath+`
`)

	// Leave the store mid-sleep, as a process that died while asleep would.
	ctx := context.Background()
	store, err := retention.Open(retention.Config{Driver: "file", Path: retPath}, logx.Nop())
	require.NoError(t, err)
	tr, err := wake.New(ctx, store, wake.NewManualClock(32768, 4096))
	require.NoError(t, err)
	require.NoError(t, tr.EnterSleep(ctx))
	require.NoError(t, store.Close())

	out, err := execute(t, "status", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "sleeping:  since tick 4096")
	assert.Contains(t, out, "no completed sleep cycle")

	out, err = execute(t, "status", "--config", p, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data struct {
			Completed     bool   `json:"completed"`
			Asleep        bool   `json:"asleep"`
			SleepingSince uint32 `json:"sleeping_since"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Completed)
	assert.True(t, resp.Data.Asleep)
	assert.Equal(t, uint32(4096), resp.Data.SleepingSince)

	// status is read-only: the pending cycle is still there.
	out, err = execute(t, "status", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "sleeping:")

	// sleep completes the interrupted cycle as a reset, then runs its own.
	out, err = execute(t, "sleep", "--config", p, "--duration", "5ms")
	require.NoError(t, err)
	assert.Contains(t, out, "cycles:    2")
	assert.NotContains(t, out, "sleeping:")
}

func quietNotifier(string) (bool, error) { return false, nil }

func TestRunStopsOnContextCancel(t *testing.T) {
	p := writeConfig(t, "logging:\n  level: error\n")
	opts := &RunOptions{
		RootOptions: &RootOptions{Config: p, Format: "text"},
		StopTimeout: 5 * time.Second,
		AppOptions:  []app.Option{app.WithNotifier(quietNotifier)},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, runApp(ctx, opts))
}

func TestRunForwardsWarningsToUplink(t *testing.T) {
	uplink := filepath.Join(t.TempDir(), "uplink.log")
	p := writeConfig(t, `
logging:
  level: info
  console: false
  uplink:
    enabled: true
    path: `+uplink+`
    rate_per_sec: 100
sleep:
  enabled: true
`)
	opts := &RunOptions{
		RootOptions: &RootOptions{Config: p, Format: "text"},
		StopTimeout: 5 * time.Second,
		AppOptions:  []app.Option{app.WithNotifier(quietNotifier)},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, runApp(ctx, opts))

	b, err := os.ReadFile(uplink)
	require.NoError(t, err)
	// always_on never sleeps, so the cycler warns at start
	assert.Contains(t, string(b), "[WARN] sleep enabled but node role never sleeps")
	assert.NotContains(t, string(b), "[INFO]")
}

func TestRunFailsOnRegistrationError(t *testing.T) {
	p := writeConfig(t, "logging:\n  level: error\napp:\n  rx_bit: 5\n  status_bit: 5\n")
	opts := &RunOptions{
		RootOptions: &RootOptions{Config: p, Format: "text"},
		StopTimeout: 5 * time.Second,
		AppOptions:  []app.Option{app.WithNotifier(quietNotifier)},
	}
	err := runApp(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "boot failed")
}
