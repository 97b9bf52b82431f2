package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetIoUThreshold(); got != 0.3 {
		t.Errorf("GetIoUThreshold() = %v, want 0.3", got)
	}
	if got := cfg.GetMinHits(); got != 3 {
		t.Errorf("GetMinHits() = %d, want 3", got)
	}
	if got := cfg.GetMaxAge(); got != 30 {
		t.Errorf("GetMaxAge() = %d, want 30", got)
	}
	if got := cfg.GetBackoffBase(); got != time.Second {
		t.Errorf("GetBackoffBase() = %v, want 1s", got)
	}
	if got := cfg.GetDispatchWorkers(); got != 4 {
		t.Errorf("GetDispatchWorkers() = %d, want 4", got)
	}
	if got := cfg.GetFlushInterval(); got != 5*time.Second {
		t.Errorf("GetFlushInterval() = %v, want 5s", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
		"iou_threshold": 0.5,
		"backoff_base": "250ms",
		"dispatch_workers": 8
	}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if got := cfg.GetIoUThreshold(); got != 0.5 {
		t.Errorf("GetIoUThreshold() = %v, want 0.5", got)
	}
	if got := cfg.GetBackoffBase(); got != 250*time.Millisecond {
		t.Errorf("GetBackoffBase() = %v, want 250ms", got)
	}
	if got := cfg.GetDispatchWorkers(); got != 8 {
		t.Errorf("GetDispatchWorkers() = %d, want 8", got)
	}
	// Unset fields fall back to defaults.
	if got := cfg.GetMinHits(); got != 3 {
		t.Errorf("GetMinHits() = %d, want default 3", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"iou out of range", `{"iou_threshold": 1.5}`},
		{"iou zero", `{"iou_threshold": 0}`},
		{"min_hits zero", `{"min_hits": 0}`},
		{"max_age negative", `{"max_age": -1}`},
		{"bad backoff", `{"backoff_base": "fast"}`},
		{"negative backoff", `{"backoff_base": "-1s"}`},
		{"workers zero", `{"dispatch_workers": 0}`},
		{"bad flush", `{"flush_interval": "soon"}`},
		{"not json", `min_hits = 3`},
	}
	for _, tc := range cases {
		path := writeConfig(t, "tuning.json", tc.content)
		if _, err := LoadTuningConfig(path); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestLoadRejectsNonJSONPath(t *testing.T) {
	path := writeConfig(t, "tuning.yaml", `{}`)
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("expected rejection of non-.json extension")
	}

	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
