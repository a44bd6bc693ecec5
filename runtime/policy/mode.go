// Package policy computes approval verdicts for capability invocations. It
// tracks the current operating mode, maps capability types to mode capability
// flags, enforces user-configured allow/block lists and path restrictions, and
// classifies high-risk operations that need explicit approval regardless of
// mode.
package policy

import (
	"strings"

	"goa.design/agentcore/runtime/capability"
)

type (
	// Flag is a closed mode-capability flag. Each concrete capability type
	// maps to exactly one flag; a mode enables or disables flags wholesale.
	Flag string

	// ApprovalStrategy is the policy verdict controlling whether an action
	// can proceed without human confirmation.
	ApprovalStrategy string

	// ModeConfig is the immutable per-mode configuration.
	ModeConfig struct {
		// DisplayName is the user-facing mode name.
		DisplayName string `yaml:"display_name"`
		// Description documents the mode for UI surfaces.
		Description string `yaml:"description"`
		// Flags enables mode-capability flags. A missing entry means disabled.
		Flags map[Flag]bool `yaml:"flags"`
		// DefaultApproval is the approval strategy applied when no more
		// specific rule decides.
		DefaultApproval ApprovalStrategy `yaml:"default_approval"`
	}
)

// Mode-capability flags.
const (
	FlagRead    Flag = "read"
	FlagWrite   Flag = "write"
	FlagExecute Flag = "execute"
	FlagNetwork Flag = "network"
)

// Approval strategies, least to most demanding.
const (
	// ApprovalNone lets the action proceed without confirmation.
	ApprovalNone ApprovalStrategy = "none"
	// ApprovalBatch confirms a group of actions at once.
	ApprovalBatch ApprovalStrategy = "batch"
	// ApprovalPerPlan confirms a whole plan; member actions then run freely.
	ApprovalPerPlan ApprovalStrategy = "per_plan"
	// ApprovalPerAction confirms every single action.
	ApprovalPerAction ApprovalStrategy = "per_action"
	// ApprovalAlways confirms the action regardless of plan state.
	ApprovalAlways ApprovalStrategy = "always"
)

// highRisk is the fixed set of capability types subject to mandatory approval
// in agent mode, plan-approved or not. These are destructive or irreversible.
var highRisk = map[capability.ID]struct{}{
	"git_push":          {},
	"git_force_push":    {},
	"deploy_production": {},
	"db_migration":      {},
	"bulk_delete":       {},
	"shell_privileged":  {},
	"fs_destructive":    {},
}

// HighRisk reports whether the capability type belongs to the fixed high-risk
// set.
func HighRisk(id capability.ID) bool {
	_, ok := highRisk[id]
	return ok
}

// flagFor maps a concrete capability type to its mode-capability flag.
// Explicit entries win; otherwise the type prefix decides.
func flagFor(id capability.ID) Flag {
	switch id {
	case "git_push", "git_force_push", "deploy_production", "db_migration":
		return FlagNetwork
	case "bulk_delete", "fs_destructive":
		return FlagWrite
	case "shell_privileged":
		return FlagExecute
	}
	s := string(id)
	switch {
	case strings.HasPrefix(s, "file_read") || strings.HasPrefix(s, "search") || strings.HasPrefix(s, "list"):
		return FlagRead
	case strings.HasPrefix(s, "file_") || strings.HasPrefix(s, "dir_"):
		return FlagWrite
	case strings.HasPrefix(s, "shell_") || strings.HasPrefix(s, "exec"):
		return FlagExecute
	case strings.HasPrefix(s, "http_") || strings.HasPrefix(s, "net_") || strings.HasPrefix(s, "git_"):
		return FlagNetwork
	default:
		return FlagRead
	}
}

// defaultModeConfigs returns the built-in per-mode configuration. Assistant is
// the most conservative, autonomous the least.
func defaultModeConfigs() map[capability.Mode]ModeConfig {
	return map[capability.Mode]ModeConfig{
		capability.ModeAssistant: {
			DisplayName: "Assistant",
			Description: "Every action requires explicit approval.",
			Flags: map[Flag]bool{
				FlagRead:  true,
				FlagWrite: true,
			},
			DefaultApproval: ApprovalPerAction,
		},
		capability.ModeAgent: {
			DisplayName: "Agent",
			Description: "Plans are approved as a whole; high-risk actions still confirm.",
			Flags: map[Flag]bool{
				FlagRead:    true,
				FlagWrite:   true,
				FlagExecute: true,
			},
			DefaultApproval: ApprovalPerPlan,
		},
		capability.ModeAutonomous: {
			DisplayName: "Autonomous",
			Description: "Actions run without approval unless listed in always-approve.",
			Flags: map[Flag]bool{
				FlagRead:    true,
				FlagWrite:   true,
				FlagExecute: true,
				FlagNetwork: true,
			},
			DefaultApproval: ApprovalNone,
		},
	}
}
