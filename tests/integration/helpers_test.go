//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"omnifetch/internal/testutil/mysqltest"

	"github.com/stretchr/testify/require"
)

const shopFixture = "testdata/shop.sql"

func newShopDB(t *testing.T) *mysqltest.TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testDB := mysqltest.NewTestDB(t)
	testDB.LoadFile(t, shopFixture)
	return testDB
}

// baseServerEnv points a server process at the test database.
func baseServerEnv(testDB *mysqltest.TestDB) []string {
	cfg := testDB.Config
	env := []string{
		"OMNIFETCH_DATABASE_DRIVER=mysql",
		"OMNIFETCH_DATABASE_HOST=" + cfg.Host,
		"OMNIFETCH_DATABASE_PORT=" + cfg.Port,
		"OMNIFETCH_DATABASE_USER=" + cfg.User,
		"OMNIFETCH_DATABASE_PASSWORD=" + cfg.Password,
		"OMNIFETCH_DATABASE_DATABASE=" + testDB.DatabaseName,
		"OMNIFETCH_OBSERVABILITY_LOGGING_FORMAT=text",
	}
	if cfg.TLSMode != "" {
		env = append(env, "OMNIFETCH_DATABASE_TLS_MODE="+cfg.TLSMode)
	}
	return env
}

func startTestServer(t *testing.T, port int, extraEnv ...string) *exec.Cmd {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "omnifetch-test")
	buildCmd := exec.Command("go", "build", "-o", binary, "../../cmd/server")
	out, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "Failed to build server: %s", out)

	cmd := exec.Command(binary)
	env := append(os.Environ(), fmt.Sprintf("OMNIFETCH_SERVER_PORT=%d", port))
	cmd.Env = mergeEnv(env, extraEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		if cmd.ProcessState == nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	})

	waitForHealthyWithLogs(t, port, &stdout, &stderr, cmd.Env)
	return cmd
}

func waitForHealthyWithLogs(t *testing.T, port int, stdout, stderr *bytes.Buffer, env []string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
	}
	t.Fatalf("Server did not become ready within 10 seconds.\n%s", formatServerDebugInfo(stdout, stderr, env))
}

func getJSON(t *testing.T, port int, path string, query url.Values) (int, map[string]any) {
	t.Helper()
	target := fmt.Sprintf("http://localhost:%d%s", port, path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	resp, err := http.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func mergeEnv(base []string, overrides ...string) []string {
	if len(overrides) == 0 {
		return base
	}

	overrideKeys := make(map[string]struct{}, len(overrides))
	for _, kv := range overrides {
		key := strings.SplitN(kv, "=", 2)[0]
		overrideKeys[key] = struct{}{}
	}

	merged := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := strings.SplitN(kv, "=", 2)[0]
		if _, exists := overrideKeys[key]; exists {
			continue
		}
		merged = append(merged, kv)
	}
	return append(merged, overrides...)
}

func formatServerDebugInfo(stdout, stderr *bytes.Buffer, env []string) string {
	var envLines []string
	for _, kv := range env {
		if strings.HasPrefix(kv, "OMNIFETCH_") && !strings.HasPrefix(kv, "OMNIFETCH_DATABASE_PASSWORD=") {
			envLines = append(envLines, kv)
		}
	}
	return fmt.Sprintf("Environment:\n%s\nSTDOUT:\n%s\nSTDERR:\n%s",
		strings.Join(envLines, "\n"),
		tailString(stdout, 4000),
		tailString(stderr, 4000),
	)
}

func tailString(buf *bytes.Buffer, max int) string {
	if buf == nil {
		return ""
	}
	s := buf.String()
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

// idsOf renders the id column of each row as text so driver integer types
// do not matter.
func idsOf(rows []map[string]any) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, fmt.Sprint(row["id"]))
	}
	return ids
}
