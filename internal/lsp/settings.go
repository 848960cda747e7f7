package lsp

import (
	"encoding/json"
	"time"

	"github.com/quill-lang/quill-ls/internal/analysis"
	"github.com/quill-lang/quill-ls/internal/diagnostics"
)

// Settings is the client-tunable configuration, supplied through
// initializationOptions on initialize and replaced wholesale by
// workspace/didChangeConfiguration. The core reads no environment.
type Settings struct {
	Diagnostics DiagnosticsSettings `json:"diagnostics"`
}

// DiagnosticsSettings tunes the debounced diagnostics pipeline.
// Pointer fields distinguish "absent, keep the default" from an
// explicit value.
type DiagnosticsSettings struct {
	Enable          *bool  `json:"enable"`
	DebounceMs      *int   `json:"debounceMs"`
	MinimumSeverity string `json:"minimumSeverity"`
}

// engineConfig lowers settings onto the diagnostics engine knobs.
func (s Settings) engineConfig() diagnostics.Config {
	config := diagnostics.DefaultConfig()
	if s.Diagnostics.Enable != nil {
		config.Enabled = *s.Diagnostics.Enable
	}
	if s.Diagnostics.DebounceMs != nil && *s.Diagnostics.DebounceMs > 0 {
		config.Debounce = time.Duration(*s.Diagnostics.DebounceMs) * time.Millisecond
	}
	if severity, ok := parseSeverity(s.Diagnostics.MinimumSeverity); ok {
		config.MinimumSeverity = severity
	}
	return config
}

func parseSeverity(name string) (analysis.Severity, bool) {
	switch name {
	case "error":
		return analysis.SeverityError, true
	case "warning":
		return analysis.SeverityWarning, true
	case "information", "info":
		return analysis.SeverityInformation, true
	case "hint":
		return analysis.SeverityHint, true
	}
	return 0, false
}

// decodeSettings parses a settings payload. The client may nest the
// server's section under a "quill" key; both shapes are accepted.
func decodeSettings(raw json.RawMessage) (Settings, bool) {
	if len(raw) == 0 {
		return Settings{}, false
	}
	var nested struct {
		Quill *Settings `json:"quill"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Quill != nil {
		return *nested.Quill, true
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, false
	}
	return settings, true
}
