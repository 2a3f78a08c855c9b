package e2e

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)
	addr := freeAddr(t)
	env := []string{
		"HOME=" + home,
		"MSD_SESSIONS_DIR=" + filepath.Join(home, "sessions"),
		"MSD_PAIRING_TOKEN=smoke",
		"MSD_PAIRING_SETTLE_DELAY=10ms",
		"MSD_ENGINE_CONNECT_DELAY=10ms",
		"MSD_ENGINE_AUTO_CONFIRM=50ms",
		"MSD_LOG_FORMAT=json",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serve := exec.CommandContext(ctx, binaryPath, "serve", "--listen", addr)
	serve.Env = append(os.Environ(), env...)
	serve.Cancel = func() error { return serve.Process.Signal(os.Interrupt) }
	var serveLog bytes.Buffer
	serve.Stderr = &serveLog
	require.NoError(t, serve.Start())

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	stdout, stderr, err := runMSD(t, binaryPath, env, "pair", "+94 77 000 0001", "--server", "http://"+addr, "--json")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"number": "94770000001"`)

	require.Eventually(t, func() bool {
		stdout, _, err := runMSD(t, binaryPath, env, "sessions", "status", "--json")
		return err == nil && strings.Contains(stdout, `"state": "connected"`)
	}, 10*time.Second, 100*time.Millisecond)

	stdout, stderr, err = runMSD(t, binaryPath, env, "health", "--server", "http://"+addr)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "ok (sessions: 1")

	cancel()
	_ = serve.Wait()
	assert.Contains(t, serveLog.String(), "sessions restored")

	stdout, stderr, err = runMSD(t, binaryPath, env, "sessions", "list")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "94770000001")
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "msd-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/msd")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build msd binary: %s", string(output))
	return binaryPath
}

func runMSD(t *testing.T, binaryPath string, env []string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
