// Package agent defines the per-agent-CLI policy layer. Each supported
// agent CLI registers a System that declares its capabilities and how it
// expects to receive the initial prompt. The planner resolves a System by
// name once at plan time instead of branching on agent names at call
// sites.
package agent

import (
	"fmt"

	"github.com/gantryhq/gantry/internal/config"
)

// PromptMode describes how an agent CLI accepts its initial instruction.
type PromptMode string

const (
	// PromptPositional passes the prompt as the final positional argument.
	PromptPositional PromptMode = "positional"
	// PromptFlag passes the prompt via a CLI flag.
	PromptFlag PromptMode = "flag"
	// PromptStdin feeds the prompt on standard input.
	PromptStdin PromptMode = "stdin"
)

// Request is the input to a System's exec planning.
type Request struct {
	// Prompt is the fully composed prompt text. Composition (including
	// the interactive guardrail prefix) happens in the planner; systems
	// only decide delivery.
	Prompt string
	// Interactive selects the interactive argv shape where supported.
	Interactive bool
	// ConfigDir is the host directory holding the agent's configuration.
	ConfigDir string
	// ExtraArgs are appended verbatim after the system's own arguments.
	ExtraArgs []string
}

// ExecPlan is a System's contribution to the run plan: the argv to exec,
// the config mounts the agent needs, and the prompt delivery mode.
type ExecPlan struct {
	Args         []string
	ConfigMounts []config.Mount
	PromptMode   PromptMode
	// StdinPayload carries the prompt when PromptMode is PromptStdin.
	StdinPayload []byte
}

// System is the policy object for one agent CLI.
type System interface {
	// Name is the unique registry key (e.g. "claude").
	Name() string

	// SupportsInteractive reports whether the CLI can run an attached
	// interactive session.
	SupportsInteractive() bool

	// SupportsDelegation reports whether the agent may drive other
	// agents in the same run.
	SupportsDelegation() bool

	// ExecPlan builds the argv, config mounts, and prompt delivery for
	// a request. Stateless per call.
	ExecPlan(req Request) (ExecPlan, error)
}

// ErrInteractiveUnsupported is returned by systems that only run
// non-interactively.
type ErrInteractiveUnsupported struct {
	SystemName string
}

func (e *ErrInteractiveUnsupported) Error() string {
	return fmt.Sprintf("agent system %q does not support interactive mode", e.SystemName)
}
