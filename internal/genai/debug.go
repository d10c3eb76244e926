package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// debugEntry is one captured generation call.
type debugEntry struct {
	Timestamp    string                 `json:"timestamp"`
	Method       string                 `json:"method"`
	Backend      string                 `json:"backend"`
	Model        string                 `json:"model"`
	Params       map[string]interface{} `json:"params"`
	SystemPrompt string                 `json:"system_prompt"`
	UserPrompt   string                 `json:"user_prompt,omitempty"`
	Response     string                 `json:"response"`
	Error        string                 `json:"error,omitempty"`
}

var debugSeq atomic.Uint64

// writeDebugEntry stores e as <stateDir>/debug/genai_<time>_<seq>.json.
// Failures are logged and otherwise ignored.
func writeDebugEntry(stateDir string, e debugEntry) {
	now := time.Now()
	e.Timestamp = now.Format(time.RFC3339Nano)

	dir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai.writeDebugEntry: failed to create debug directory", "dir", dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebugEntry: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("genai_%s_%06d.json", now.Format("20060102T150405.000000000"), debugSeq.Add(1))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("genai.writeDebugEntry: failed to write debug entry", "file", name, "error", err)
		return
	}
	slog.Debug("genai.writeDebugEntry: captured generation call", "file", name, "method", e.Method)
}
