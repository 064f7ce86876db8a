package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns Settings with sensible defaults.
func Default() *Settings {
	return &Settings{
		StateDir: "~/.pilotdesk/state",
		Storage:  "file",
		ChatAPI: ChatAPIConfig{
			BaseURL:           "https://api.openai.com/v1",
			RequestsPerMinute: 60,
			TimeoutSeconds:    120,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18920,
			RateLimitRPM: 20,
		},
		Approval: ApprovalConfig{
			UIMode: ApprovalModal,
		},
		Office: OfficeDefaults{
			CheckIntervalMinutes:    5,
			MaxAssistants:           3,
			AssistantTimeoutSeconds: 300,
			MaxRetries:              2,
		},
		Panel: PanelSettings{
			MaxPanelists:         4,
			MaxTurns:             20,
			MaxTotalTokens:       200000,
			MaxToolCalls:         50,
			MaxDurationMinutes:   60,
			ConvergenceThreshold: 80,
			MaxTokensPerTurn:     1200,
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// Load reads settings from a JSON5 file (comments and trailing commas are
// tolerated), then overlays env vars. A missing or unreadable file falls
// back to defaults — load failures must not fail startup.
func Load(path string) (*Settings, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "settings: %v, using defaults\n", err)
		}
		cfg.applyEnvOverrides()
		cfg.normalize()
		return cfg, nil
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "settings: parse %s: %v, using defaults\n", path, err)
		cfg = Default()
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// Save writes settings as pretty-printed JSON.
func (c *Settings) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides overlays env vars onto the settings.
// Env vars take precedence over file values.
func (c *Settings) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("PILOTDESK_API_KEY", &c.ChatAPI.APIKey)
	envStr("PILOTDESK_BASE_URL", &c.ChatAPI.BaseURL)
	envStr("PILOTDESK_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("PILOTDESK_STATE_DIR", &c.StateDir)

	if v := os.Getenv("PILOTDESK_GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Gateway.Port = p
		}
	}
}

// normalize expands the state dir and clamps invalid values back to defaults.
func (c *Settings) normalize() {
	c.StateDir = expandHome(c.StateDir)

	switch c.Approval.UIMode {
	case ApprovalModal, ApprovalInline, ApprovalBoth:
	default:
		c.Approval.UIMode = ApprovalModal
	}

	switch c.Storage {
	case "file", "sqlite":
	default:
		c.Storage = "file"
	}

	if c.Panel.MaxPanelists < 2 {
		c.Panel.MaxPanelists = 2
	}
	if c.Panel.MaxPanelists > 8 {
		c.Panel.MaxPanelists = 8
	}
	if c.Panel.ConvergenceThreshold <= 0 || c.Panel.ConvergenceThreshold > 100 {
		c.Panel.ConvergenceThreshold = 80
	}
	if c.Office.CheckIntervalMinutes < 1 {
		c.Office.CheckIntervalMinutes = 1
	}
	if c.Office.MaxAssistants < 1 {
		c.Office.MaxAssistants = 1
	}
	if c.Office.AssistantTimeoutSeconds <= 0 {
		c.Office.AssistantTimeoutSeconds = 300
	}
}

// NewOfficeConfig builds a run config from defaults plus an objective.
func (c *Settings) NewOfficeConfig(objective, workspace string) OfficeConfig {
	return OfficeConfig{
		Objective:               objective,
		WorkspacePath:           workspace,
		CheckIntervalMinutes:    c.Office.CheckIntervalMinutes,
		MaxAssistants:           c.Office.MaxAssistants,
		RequirePlanApproval:     c.Office.RequirePlanApproval,
		ManagerModel:            c.Office.ManagerModel,
		AssistantModel:          c.Office.AssistantModel,
		AssistantTimeoutSeconds: c.Office.AssistantTimeoutSeconds,
		MaxRetries:              c.Office.MaxRetries,
	}
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
