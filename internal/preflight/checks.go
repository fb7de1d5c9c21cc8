package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"desceval/internal/config"
	"desceval/internal/redisconn"
	"desceval/internal/services/llm"
	"desceval/internal/store"
)

// CheckLLM verifies that the grading endpoint is reachable and the key is
// valid. It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLM) Result {
	keys := cfg.Keys()
	if len(keys) == 0 {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKeys:        keys,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Temperature:    cfg.Temperature,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckJudge verifies the code execution service responds and accepts the
// configured key.
func CheckJudge(ctx context.Context, baseURL, apiKey string) Result {
	const name = "Code judge"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/languages", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("X-Auth-Token", key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%d)", resp.StatusCode)}
	}
}

// CheckRedis verifies Redis connectivity with a short ping.
func CheckRedis(ctx context.Context, cfg *config.Config) Result {
	const name = "Redis"

	client, err := redisconn.New(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisconn.Check(checkCtx, client); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	addr := ""
	if ropts, optsErr := redisconn.Options(cfg); optsErr == nil {
		addr = ropts.Addr
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", addr)}
}

// CheckStore opens the job store and runs its integrity diagnostics.
func CheckStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Job store"

	st, err := store.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer st.Close()

	health, err := st.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true,
		Detail: fmt.Sprintf("%s (%d migrations, integrity %s)", health.DBPath, health.MigrationsApplied, health.IntegrityCheck)}
}

// CheckWorkerBinary verifies the worker executable the pool will spawn
// can be resolved, either from the configured path, the PATH, or the
// daemon executable's own directory.
func CheckWorkerBinary(cfg *config.Config) Result {
	const name = "Worker binary"
	const binaryName = "desceval-worker"

	if configured := strings.TrimSpace(cfg.Paths.WorkerBinary); configured != "" {
		info, err := os.Stat(configured)
		if err != nil {
			if os.IsNotExist(err) {
				return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", configured)}
			}
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", configured, err)}
		}
		if info.IsDir() {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", configured)}
		}
		if err := unix.Access(configured, unix.X_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable: %v)", configured, err)}
		}
		return Result{Name: name, Passed: true, Detail: configured}
	}

	if path, err := exec.LookPath(binaryName); err == nil {
		return Result{Name: name, Passed: true, Detail: path}
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), binaryName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return Result{Name: name, Passed: true, Detail: candidate}
		}
	}
	return Result{Name: name, Detail: fmt.Sprintf("%s not found in PATH or beside the daemon executable", binaryName)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	return err.Error()
}
