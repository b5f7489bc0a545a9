package agent

import (
	"github.com/gantryhq/gantry/internal/config"
)

// configMount mounts the agent's host config dir at its in-container
// home location. No config dir means no mount.
func configMount(dir, target string) []config.Mount {
	if dir == "" {
		return nil
	}
	return []config.Mount{{Source: dir, Target: target}}
}

// claudeSystem runs Claude Code. Interactive sessions are supported; the
// prompt is the final positional argument.
type claudeSystem struct{}

func newClaudeSystem() (System, error) { return &claudeSystem{}, nil }

func (s *claudeSystem) Name() string              { return "claude" }
func (s *claudeSystem) SupportsInteractive() bool { return true }
func (s *claudeSystem) SupportsDelegation() bool  { return true }

func (s *claudeSystem) ExecPlan(req Request) (ExecPlan, error) {
	args := []string{"claude"}
	if !req.Interactive {
		args = append(args, "-p")
	}
	args = append(args, req.ExtraArgs...)
	args = append(args, req.Prompt)

	return ExecPlan{
		Args:         args,
		PromptMode:   PromptPositional,
		ConfigMounts: configMount(req.ConfigDir, "/root/.claude"),
	}, nil
}

// codexSystem runs Codex. It is batch-only: the CLI has no attached
// session mode, so interactive requests are rejected at plan time.
type codexSystem struct{}

func newCodexSystem() (System, error) { return &codexSystem{}, nil }

func (s *codexSystem) Name() string              { return "codex" }
func (s *codexSystem) SupportsInteractive() bool { return false }
func (s *codexSystem) SupportsDelegation() bool  { return false }

func (s *codexSystem) ExecPlan(req Request) (ExecPlan, error) {
	if req.Interactive {
		return ExecPlan{}, &ErrInteractiveUnsupported{SystemName: s.Name()}
	}

	args := []string{"codex", "exec", "--prompt", req.Prompt}
	args = append(args, req.ExtraArgs...)

	return ExecPlan{
		Args:         args,
		PromptMode:   PromptFlag,
		ConfigMounts: configMount(req.ConfigDir, "/root/.codex"),
	}, nil
}

// geminiSystem runs Gemini. Non-interactive runs feed the prompt on
// standard input; interactive sessions seed it with -i so the CLI stays
// attached after answering.
type geminiSystem struct{}

func newGeminiSystem() (System, error) { return &geminiSystem{}, nil }

func (s *geminiSystem) Name() string              { return "gemini" }
func (s *geminiSystem) SupportsInteractive() bool { return true }
func (s *geminiSystem) SupportsDelegation() bool  { return false }

func (s *geminiSystem) ExecPlan(req Request) (ExecPlan, error) {
	args := []string{"gemini"}
	if req.Interactive {
		args = append(args, "-i", req.Prompt)
	}
	args = append(args, req.ExtraArgs...)

	plan := ExecPlan{
		Args:         args,
		PromptMode:   PromptStdin,
		ConfigMounts: configMount(req.ConfigDir, "/root/.gemini"),
	}
	if req.Interactive {
		plan.PromptMode = PromptFlag
	} else {
		plan.StdinPayload = []byte(req.Prompt)
	}
	return plan, nil
}
