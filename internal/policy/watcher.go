package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// pollInterval is how often the watcher checks the policy directory for
// modification-time changes.
const pollInterval = 2 * time.Second

// Watcher hot-reloads policy files from a directory into the evaluator.
// A load failure leaves the previously loaded version intact.
type Watcher struct {
	dir    string
	client *Client
	logger *slog.Logger

	mu      sync.Mutex
	mtimes  map[string]time.Time
	loaded  map[string]bool
	lastErr map[string]string
}

// NewWatcher creates a watcher over dir. Call Run to start polling.
func NewWatcher(dir string, client *Client, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		client:  client,
		logger:  logger,
		mtimes:  make(map[string]time.Time),
		loaded:  make(map[string]bool),
		lastErr: make(map[string]string),
	}
}

// Run polls the directory until ctx is cancelled. The first sweep runs
// immediately so policies are live before the server accepts traffic.
func (w *Watcher) Run(ctx context.Context) {
	w.Sweep(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep loads every new or modified policy file once. Exported so startup
// and tests can force a synchronous pass.
func (w *Watcher) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("policy dir read failed", "dir", w.dir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		w.mu.Lock()
		prev, seen := w.mtimes[entry.Name()]
		w.mu.Unlock()
		if seen && !info.ModTime().After(prev) {
			continue
		}

		w.loadFile(ctx, entry.Name(), info.ModTime())
	}
}

func (w *Watcher) loadFile(ctx context.Context, name string, mtime time.Time) {
	body, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		w.recordError(name, mtime, fmt.Sprintf("read: %v", err))
		return
	}
	if err := validatePolicy(string(body)); err != nil {
		w.recordError(name, mtime, err.Error())
		return
	}

	policyName := strings.TrimSuffix(name, ".rego")
	if err := w.client.Load(ctx, policyName, string(body)); err != nil {
		// The evaluator keeps whatever version it had; retry on next change.
		w.recordError(name, mtime, err.Error())
		return
	}

	w.mu.Lock()
	w.mtimes[name] = mtime
	w.loaded[policyName] = true
	delete(w.lastErr, name)
	w.mu.Unlock()
	w.logger.Info("policy loaded", "policy", policyName)
}

func (w *Watcher) recordError(name string, mtime time.Time, msg string) {
	w.mu.Lock()
	// Record the mtime even on failure so a broken file is not retried
	// every sweep; the next modification retries it.
	w.mtimes[name] = mtime
	w.lastErr[name] = msg
	w.mu.Unlock()
	w.logger.Warn("policy load failed, prior version kept", "file", name, "error", msg)
}

// Loaded returns the names of successfully loaded policies, sorted.
func (w *Watcher) Loaded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.loaded))
	for name := range w.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// validatePolicy checks the minimal shape of a policy body: a package
// declaration must come before any rule.
func validatePolicy(body string) error {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			return nil
		}
		return fmt.Errorf("policy: missing package declaration")
	}
	return fmt.Errorf("policy: empty policy body")
}
