package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// iauthEnv configures an iauth session through AUTHSESSION_* variables.
func iauthEnv() []string {
	return append(os.Environ(),
		"AUTHSESSION_PROVIDER=iauth",
		"AUTHSESSION_ORIGINATOR_ID=orig-1",
		"AUTHSESSION_APPLICATION_NAME=portal",
		"AUTHSESSION_REDIRECT_URI=https://app.example.com/callback",
		"AUTHSESSION_BASE_URL=https://iauth.example",
		"AUTHSESSION_API_BASE_URL=https://api.iauth.example",
		"AUTHSESSION_STORAGE=memory",
	)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitForHost(t *testing.T, addr string) {
	t.Helper()
	for range 50 {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("authsession failed to become ready after 5 seconds")
}

func TestCLIConfigInitGeneratesValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "generated-config.json")

	cmd := exec.Command(binaryPath, "-config-init", configPath)
	output, err := cmd.CombinedOutput()
	t.Logf("config-init output: %s", output)

	require.NoError(t, err, "config-init should succeed")
	assert.Contains(t, string(output), "Generated default config at:")

	fi, err := os.Stat(configPath)
	require.NoError(t, err, "config file should exist")
	require.Greater(t, fi.Size(), int64(0), "config file should not be empty")

	cmd = exec.Command(binaryPath, "-config", configPath, "-validate")
	output, err = cmd.CombinedOutput()
	t.Logf("validate output: %s", output)

	require.NoError(t, err, "validate should succeed for config-init generated file")
	assert.Contains(t, string(output), "Result: PASS")
}

func TestCLIValidateRejectsPlainSecret(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
		"version": "v1",
		"provider": {
			"provider": "identidadv1",
			"clientId": "client",
			"clientSecret": "plain-text",
			"realm": "realm-1",
			"redirectUri": "https://app.example.com/callback"
		}
	}`), 0o644))

	output, err := exec.Command(binaryPath, "-config", configPath, "-validate").CombinedOutput()
	t.Logf("validate output: %s", output)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "validate should exit non-zero")
	assert.Contains(t, string(output), "provider.clientSecret")
	assert.Contains(t, string(output), "Result: FAIL")
}

func TestCLIVersion(t *testing.T) {
	output, err := exec.Command(binaryPath, "-version").Output()
	require.NoError(t, err)
	assert.Equal(t, "dev", strings.TrimSpace(string(output)))
}

func TestCLILoginPrintsProviderURL(t *testing.T) {
	cmd := exec.Command(binaryPath, "-env", "-login")
	cmd.Env = iauthEnv()
	output, err := cmd.Output()
	require.NoError(t, err)

	target, err := url.Parse(strings.TrimSpace(string(output)))
	require.NoError(t, err)
	assert.Equal(t, "iauth.example", target.Host)
	assert.Equal(t, "orig-1", target.Query().Get("originatorId"))
	assert.Equal(t, "portal", target.Query().Get("applicationName"))
	assert.NotEmpty(t, target.Query().Get("codeChallenge"))
}

func TestCLIWithoutSessionExitsUnauthenticated(t *testing.T) {
	cmd := exec.Command(binaryPath, "-env")
	cmd.Env = iauthEnv()
	output, err := cmd.Output()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.ExitCode())

	var status map[string]any
	require.NoError(t, json.Unmarshal(output, &status))
	assert.Equal(t, false, status["isAuthenticated"])
}

func TestCLIMissingConfig(t *testing.T) {
	output, err := exec.Command(binaryPath).CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(output), "-config or -env is required")

	cmd := exec.Command(binaryPath, "-env")
	cmd.Env = append(os.Environ(), "AUTHSESSION_PROVIDER=keycloak")
	output, err = cmd.CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(output), "Failed to load config")
}

func TestCLIWatchServesSessionStatus(t *testing.T) {
	addr := freeAddr(t)
	cmd := exec.Command(binaryPath, "-env", "-watch", "-metrics", addr)
	cmd.Env = append(iauthEnv(),
		"AUTHSESSION_IDLE_ENABLED=true",
		"AUTHSESSION_IDLE_TIMEOUT=10m",
		"AUTHSESSION_IDLE_REDIRECT_URL=/session-expired",
		"AUTHSESSION_IDLE_RESET_ON=mousemove,navigate",
	)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	waitForHost(t, addr)

	_, err = io.WriteString(stdin, "mousemove\nnavigate /orders\n")
	require.NoError(t, err)

	var status map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/session", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		status = nil
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&status) != nil {
			return false
		}
		return status["isLoading"] == false
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, false, status["isAuthenticated"])
	assert.Contains(t, status, "remainingSignOutSeconds")

	metricsResp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	body, err := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `authsession_restores_total{outcome="none",provider="iauth"} 1`)

	require.NoError(t, stdin.Close())
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("authsession did not exit after stdin closed")
	}
}
