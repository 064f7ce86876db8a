package config

import (
	"fmt"
	"strings"
)

// Settings is the app-wide configuration, loaded from settings.json.
type Settings struct {
	StateDir string `json:"state_dir"` // root for persisted JSON state
	Storage  string `json:"storage"`   // "file" (default) or "sqlite"

	ChatAPI   ChatAPIConfig   `json:"chat_api"`
	Gateway   GatewayConfig   `json:"gateway"`
	Approval  ApprovalConfig  `json:"approval"`
	Office    OfficeDefaults  `json:"office"`
	Panel     PanelSettings   `json:"panel"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// CronInjections inject instructions into a running office run on a
	// cron schedule, exactly as if a user had posted them.
	CronInjections []CronInjection `json:"cron_injections,omitempty"`
}

// ChatAPIConfig configures the Copilot-style chat transport.
type ChatAPIConfig struct {
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"api_key"`
	RequestsPerMinute int    `json:"requests_per_minute"` // 0 = unlimited
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

// GatewayConfig configures the WebSocket event/command gateway.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`
}

// ApprovalUIMode selects how tool approval requests reach the user.
type ApprovalUIMode string

const (
	ApprovalModal  ApprovalUIMode = "modal"  // blocks until answered
	ApprovalInline ApprovalUIMode = "inline" // toast with 10s auto-deny
	ApprovalBoth   ApprovalUIMode = "both"   // 3s quick toast, then modal
)

// ApprovalConfig configures the tool approval broker.
type ApprovalConfig struct {
	UIMode ApprovalUIMode `json:"ui_mode"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Protocol string `json:"protocol"` // "http" (default) or "grpc"
}

// CronInjection is a scheduled office instruction.
type CronInjection struct {
	Schedule    string `json:"schedule"` // cron expression
	Instruction string `json:"instruction"`
}

// OfficeDefaults seed new OfficeConfig values for fields the caller omits.
type OfficeDefaults struct {
	CheckIntervalMinutes    int    `json:"check_interval_minutes"`
	MaxAssistants           int    `json:"max_assistants"`
	AssistantTimeoutSeconds int    `json:"assistant_timeout_seconds"`
	MaxRetries              int    `json:"max_retries"`
	ManagerModel            string `json:"manager_model"`
	AssistantModel          string `json:"assistant_model"`
	RequirePlanApproval     bool   `json:"require_plan_approval"`
}

// OfficeConfig configures a single office run. Immutable once the run starts.
type OfficeConfig struct {
	Objective               string   `json:"objective"`
	WorkspacePath           string   `json:"workspace_path"`
	CheckIntervalMinutes    int      `json:"check_interval_minutes"`
	MaxAssistants           int      `json:"max_assistants"`
	RequirePlanApproval     bool     `json:"require_plan_approval"`
	ManagerModel            string   `json:"manager_model"`
	AssistantModel          string   `json:"assistant_model"`
	AssistantTimeoutSeconds int      `json:"assistant_timeout_seconds"`
	MaxRetries              int      `json:"max_retries"`
	MCPServers              []string `json:"mcp_servers,omitempty"` // opaque, passed through to sessions
	Skills                  []string `json:"skills,omitempty"`      // opaque, passed through to sessions

	// Autonomous marks the run's sessions as bypassing tool approval.
	Autonomous bool `json:"autonomous,omitempty"`
}

// Validate checks run-config invariants.
func (c *OfficeConfig) Validate() error {
	if strings.TrimSpace(c.Objective) == "" {
		return fmt.Errorf("office config: objective is required")
	}
	if c.CheckIntervalMinutes < 1 {
		return fmt.Errorf("office config: check_interval_minutes must be >= 1, got %d", c.CheckIntervalMinutes)
	}
	if c.MaxAssistants < 1 {
		return fmt.Errorf("office config: max_assistants must be >= 1, got %d", c.MaxAssistants)
	}
	if c.AssistantTimeoutSeconds <= 0 {
		return fmt.Errorf("office config: assistant_timeout_seconds must be > 0, got %d", c.AssistantTimeoutSeconds)
	}
	return nil
}

// DiscussionDepth selects panel discussion presets.
type DiscussionDepth string

const (
	DepthAuto     DiscussionDepth = "auto"
	DepthQuick    DiscussionDepth = "quick"
	DepthStandard DiscussionDepth = "standard"
	DepthDeep     DiscussionDepth = "deep"
)

// ParseDepth parses a depth name case-insensitively. Unknown names map to Auto.
func ParseDepth(s string) DiscussionDepth {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick":
		return DepthQuick
	case "standard":
		return DepthStandard
	case "deep":
		return DepthDeep
	default:
		return DepthAuto
	}
}

// PanelSettings configures a panel discussion.
type PanelSettings struct {
	PrimaryModel           string          `json:"primary_model"`
	PanelistModels         []string        `json:"panelist_models,omitempty"`
	MaxPanelists           int             `json:"max_panelists"`
	MaxTurns               int             `json:"max_turns"`
	MaxTotalTokens         int             `json:"max_total_tokens"`
	MaxToolCalls           int             `json:"max_tool_calls"`
	MaxDurationMinutes     int             `json:"max_duration_minutes"`
	ConvergenceThreshold   int             `json:"convergence_threshold"`
	MaxTokensPerTurn       int             `json:"max_tokens_per_turn"`
	DiscussionDepthOverride DiscussionDepth `json:"discussion_depth_override,omitempty"`
}

// Validate clamps and checks panel settings.
func (s *PanelSettings) Validate() error {
	if s.MaxPanelists < 2 || s.MaxPanelists > 8 {
		return fmt.Errorf("panel settings: max_panelists must be in [2..8], got %d", s.MaxPanelists)
	}
	if s.ConvergenceThreshold < 0 || s.ConvergenceThreshold > 100 {
		return fmt.Errorf("panel settings: convergence_threshold must be in [0..100], got %d", s.ConvergenceThreshold)
	}
	return nil
}

// ApplyDepth adjusts turn and convergence limits for the chosen depth.
// Quick caps maxTurns at 10 and lowers the threshold to 60; Deep raises
// maxTurns to at least 50 and the threshold to 90. Standard and Auto leave
// the configured values alone.
func (s *PanelSettings) ApplyDepth(depth DiscussionDepth) {
	switch depth {
	case DepthQuick:
		if s.MaxTurns > 10 || s.MaxTurns == 0 {
			s.MaxTurns = 10
		}
		s.ConvergenceThreshold = 60
	case DepthDeep:
		if s.MaxTurns < 50 {
			s.MaxTurns = 50
		}
		s.ConvergenceThreshold = 90
	}
}
