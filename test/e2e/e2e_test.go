// Package e2e exercises the compiled server binaries over HTTP.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinaries map[string]string
	buildOnce     sync.Once
	buildErr      error
)

// getBinary builds the named cmd package once and returns the binary path.
func getBinary(t *testing.T, name string) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "tether-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		builtBinaries = make(map[string]string)
		for _, pkg := range []string{"tether", "testserver"} {
			binary := filepath.Join(dir, pkg)
			cmd := exec.Command("go", "build", "-o", binary, "./cmd/"+pkg)
			cmd.Dir = findRepoRoot(t)
			out, err := cmd.CombinedOutput()
			if err != nil {
				buildErr = fmt.Errorf("go build ./cmd/%s failed: %w\n%s", pkg, err, out)
				return
			}
			builtBinaries[pkg] = binary
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinaries[name]
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T, binary string, extraEnv ...string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"TETHER_LISTEN_ADDR="+addr,
		"TETHER_DB_PATH="+dbPath,
		"TETHER_LOG_LEVEL=info",
	)
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// submitOp POSTs an operation and returns the decoded response body.
func submitOp(t *testing.T, sp *serverProc, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(sp.url+"/v1/operations", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/operations: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 202 {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202\nbody: %s", resp.StatusCode, respBody)
	}

	var op map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return op
}

// getOp fetches an operation by ID.
func getOp(t *testing.T, sp *serverProc, id string) map[string]any {
	t.Helper()
	resp, err := http.Get(sp.url + "/v1/operations/" + id)
	if err != nil {
		t.Fatalf("GET /v1/operations/%s: %v", id, err)
	}
	defer resp.Body.Close()

	var op map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return op
}

// waitForOpStatus polls until the operation reaches the expected status.
func waitForOpStatus(t *testing.T, sp *serverProc, id, expected string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		op := getOp(t, sp, id)
		if op["status"] == expected {
			return op
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("operation %s did not reach status %q within %v", id, expected, timeout)
	return nil
}
