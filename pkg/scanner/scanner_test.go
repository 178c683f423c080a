package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scanord/engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSettings() types.Settings {
	return types.Settings{
		ScanType:       "sS",
		HostTimeoutSec: 30,
		Profile:        types.ProfileFast,
	}
}

func TestBuildArgvBaseline(t *testing.T) {
	argv, err := BuildArgv(baseSettings(), types.Address("10.0.0.1"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-Pn", "-n", "-sS",
		"--host-timeout", "30s",
		"-oX", "-",
		"-T4", "--max-retries", "1",
		"10.0.0.1",
	}, argv)
}

func TestBuildArgvThoroughProfile(t *testing.T) {
	s := baseSettings()
	s.Profile = types.ProfileThorough
	argv, err := BuildArgv(s, types.Address("10.0.0.2"))
	require.NoError(t, err)

	assert.Contains(t, argv, "-T3")
	assert.Contains(t, argv, "2")
	assert.NotContains(t, argv, "-T4")
}

func TestBuildArgvTopPorts(t *testing.T) {
	s := baseSettings()
	s.Ports = "top-100"
	argv, err := BuildArgv(s, types.Address("10.0.0.3"))
	require.NoError(t, err)

	assert.Contains(t, argv, "--top-ports")
	assert.Contains(t, argv, "100")
}

func TestBuildArgvLiteralPorts(t *testing.T) {
	s := baseSettings()
	s.Ports = "22,80,443"
	argv, err := BuildArgv(s, types.Address("10.0.0.4"))
	require.NoError(t, err)

	assert.Contains(t, argv, "-p")
	assert.Contains(t, argv, "22,80,443")
}

func TestBuildArgvExtraArgsShellTokenized(t *testing.T) {
	s := baseSettings()
	s.ExtraArgs = `--script "default and safe" -v`
	argv, err := BuildArgv(s, types.Address("10.0.0.5"))
	require.NoError(t, err)

	assert.Contains(t, argv, "--script")
	assert.Contains(t, argv, "default and safe")
	assert.Contains(t, argv, "-v")
	assert.Equal(t, "10.0.0.5", argv[len(argv)-1])
}

func TestBuildArgvInvalidExtraArgs(t *testing.T) {
	s := baseSettings()
	s.ExtraArgs = `--script "unterminated`
	_, err := BuildArgv(s, types.Address("10.0.0.6"))
	assert.Error(t, err)
}

func TestBuildArgvRequiresScanType(t *testing.T) {
	s := baseSettings()
	s.ScanType = ""
	_, err := BuildArgv(s, types.Address("10.0.0.7"))
	assert.Error(t, err)
}

func TestBuildArgvRequiresPositiveTimeout(t *testing.T) {
	s := baseSettings()
	s.HostTimeoutSec = 0
	_, err := BuildArgv(s, types.Address("10.0.0.8"))
	assert.Error(t, err)
}

func TestBuildArgvUnknownProfile(t *testing.T) {
	s := baseSettings()
	s.Profile = "blistering"
	_, err := BuildArgv(s, types.Address("10.0.0.9"))
	assert.Error(t, err)
}

func TestPortArgsEmpty(t *testing.T) {
	assert.Nil(t, portArgs(""))
}

func TestTopNRejectsNonTopPrefix(t *testing.T) {
	_, ok := topN("22,80")
	assert.False(t, ok)
}

func TestTopNRejectsZero(t *testing.T) {
	_, ok := topN("top-0")
	assert.False(t, ok)
}

// fakeScannerScript writes a tiny shell script masquerading as the scanner
// binary, used so Scan exercises the real exec/SIGTERM/SIGKILL path
// without depending on nmap being installed.
func fakeScannerScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-scanner")
	script := "#!/bin/sh\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestScanCapturesStdoutOnSuccess(t *testing.T) {
	bin := fakeScannerScript(t, `echo '<nmaprun></nmaprun>'`)
	a := NewAdapter(bin)

	outcome, err := a.Scan(context.Background(), baseSettings(), types.Address("127.0.0.1"))
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Contains(t, string(outcome.Stdout), "nmaprun")
}

func TestScanNotOKOnEmptyStdout(t *testing.T) {
	bin := fakeScannerScript(t, `exit 0`)
	a := NewAdapter(bin)

	outcome, err := a.Scan(context.Background(), baseSettings(), types.Address("127.0.0.1"))
	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func TestScanNotOKOnNonZeroExit(t *testing.T) {
	bin := fakeScannerScript(t, `echo 'partial'; exit 1`)
	a := NewAdapter(bin)

	outcome, err := a.Scan(context.Background(), baseSettings(), types.Address("127.0.0.1"))
	require.NoError(t, err)
	assert.False(t, outcome.OK)
}

func TestScanKillsOnContextCancel(t *testing.T) {
	bin := fakeScannerScript(t, `trap '' TERM; sleep 30`)
	a := NewAdapter(bin)

	s := baseSettings()
	s.HostTimeoutSec = 60

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome, err := a.Scan(ctx, s, types.Address("127.0.0.1"))
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	// Ignores SIGTERM, so the kill escalation must finish near killGrace,
	// not wait out the full 60s+15s outer deadline.
	assert.Less(t, time.Since(start), killGrace+5*time.Second)
}

func TestScanRespectsSIGTERMWithoutEscalationDelay(t *testing.T) {
	bin := fakeScannerScript(t, `trap 'exit 0' TERM; sleep 30`)
	a := NewAdapter(bin)

	s := baseSettings()
	s.HostTimeoutSec = 60

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := a.Scan(ctx, s, types.Address("127.0.0.1"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), killGrace)
}

func TestScanCtxCancelRacingAbortAllDoesNotHang(t *testing.T) {
	bin := fakeScannerScript(t, `trap '' TERM; sleep 30`)
	a := NewAdapter(bin)

	s := baseSettings()
	s.HostTimeoutSec = 60

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_, _ = a.Scan(ctx, s, types.Address("127.0.0.1"))
		close(done)
	}()

	// Cancel the host task's own ctx and call AbortAll at nearly the same
	// instant, so both the Scan goroutine's ctx.Done() branch and
	// AbortAll's goroutine try to escalate the same process concurrently.
	time.Sleep(50 * time.Millisecond)
	cancel()
	a.AbortAll()

	select {
	case <-done:
	case <-time.After(killGrace + 5*time.Second):
		t.Fatal("Scan did not return: concurrent escalate callers deadlocked on the single done receive")
	}
}

func TestAbortAllKillsInFlightScans(t *testing.T) {
	bin := fakeScannerScript(t, `trap '' TERM; sleep 30`)
	a := NewAdapter(bin)

	s := baseSettings()
	s.HostTimeoutSec = 60

	done := make(chan struct{})
	go func() {
		_, _ = a.Scan(context.Background(), s, types.Address("127.0.0.1"))
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	a.AbortAll()

	select {
	case <-done:
	case <-time.After(killGrace + 5*time.Second):
		t.Fatal("AbortAll did not terminate the in-flight scan")
	}
}
