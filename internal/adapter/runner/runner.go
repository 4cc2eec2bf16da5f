// Package runner invokes the UniRig inference scripts as subprocesses and
// streams their progress back as events.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
)

// Inference launch scripts, relative to the UniRig repository root.
const (
	skeletonScript = "launch/inference/generate_skeleton.sh"
	skinningScript = "launch/inference/generate_skin.sh"
	mergeScript    = "launch/inference/merge.sh"
)

// killGracePeriod is how long a cancelled process gets between SIGTERM
// and SIGKILL.
const killGracePeriod = 10 * time.Second

// ScriptInvoker implements domain.Invoker by executing the stage's launch
// script from the UniRig repository root. Progress is inferred from stdout
// keywords the scripts are known to emit; stderr is collected for failure
// reports.
type ScriptInvoker struct {
	scriptDir string // UniRig root, cwd of every invocation
	logger    *slog.Logger
}

func NewScriptInvoker(scriptDir string, logger *slog.Logger) *ScriptInvoker {
	return &ScriptInvoker{scriptDir: scriptDir, logger: logger}
}

func (s *ScriptInvoker) Invoke(ctx context.Context, req domain.InvokeRequest) (<-chan domain.InvokeEvent, error) {
	args, outputs, err := s.command(req)
	if err != nil {
		return nil, err
	}

	// The scripts run with the UniRig root as cwd, so the script path must
	// be absolute or a relative script directory would resolve against
	// itself twice.
	script, err := filepath.Abs(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve script path: %w", err)
	}
	args[0] = script

	cmd := exec.CommandContext(ctx, "bash", args...)
	cmd.Dir = s.scriptDir
	cmd.Cancel = func() error {
		// Cooperative first: the scripts trap SIGTERM and clean up their
		// intermediate files.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", req.Stage, err)
	}

	events := make(chan domain.InvokeEvent, 16)
	go func() {
		defer close(events)

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			s.logger.Debug("inference output", "job_id", req.JobID, "stage", req.Stage, "line", line)
			if p, ok := progressFor(line); ok {
				events <- domain.InvokeEvent{Progress: p}
			}
		}

		err := cmd.Wait()
		events <- s.terminalEvent(ctx, req, outputs, err, stderr.String())
	}()
	return events, nil
}

// command builds the script arguments for the stage and returns the
// artifacts the stage is expected to produce.
func (s *ScriptInvoker) command(req domain.InvokeRequest) ([]string, []domain.Artifact, error) {
	switch req.Stage {
	case domain.StageSkeleton:
		out := filepath.Join(req.OutputDir, "skeleton.fbx")
		return []string{
				filepath.Join(s.scriptDir, skeletonScript),
				"--input", req.Inputs[domain.ArtifactModel],
				"--output", out,
				"--seed", strconv.Itoa(req.Config.Seed),
			},
			[]domain.Artifact{{Kind: domain.ArtifactSkeleton, Name: "skeleton.fbx", Path: out}},
			nil

	case domain.StageSkinning:
		out := filepath.Join(req.OutputDir, "skin.fbx")
		args := []string{
			filepath.Join(s.scriptDir, skinningScript),
			"--input", req.Inputs[domain.ArtifactSkeleton],
			"--output", out,
		}
		if req.Config.Iterations > 0 {
			args = append(args, "--iterations", strconv.Itoa(req.Config.Iterations))
		}
		return args,
			[]domain.Artifact{{Kind: domain.ArtifactSkinning, Name: "skin.fbx", Path: out}},
			nil

	case domain.StageMerge:
		out := filepath.Join(req.OutputDir, "rigged.glb")
		return []string{
				filepath.Join(s.scriptDir, mergeScript),
				"--skeleton", req.Inputs[domain.ArtifactSkeleton],
				"--skin", req.Inputs[domain.ArtifactSkinning],
				"--source", req.Inputs[domain.ArtifactModel],
				"--output", out,
			},
			[]domain.Artifact{{Kind: domain.ArtifactRigged, Name: "rigged.glb", Path: out}},
			nil

	default:
		return nil, nil, fmt.Errorf("stage %q has no inference script", req.Stage)
	}
}

// terminalEvent classifies the process outcome into the failure taxonomy,
// or verifies and sizes the produced artifacts on success.
func (s *ScriptInvoker) terminalEvent(ctx context.Context, req domain.InvokeRequest, outputs []domain.Artifact, waitErr error, stderr string) domain.InvokeEvent {
	if ctx.Err() != nil {
		return failure(domain.FailureCancelled, "inference cancelled", "")
	}
	if waitErr != nil {
		return classifyExit(waitErr, stderr)
	}

	for i, artifact := range outputs {
		info, err := os.Stat(artifact.Path)
		if err != nil {
			return failure(domain.FailureInvalidIntermediate,
				fmt.Sprintf("output file not created: %s", artifact.Name),
				"the inference script exited cleanly without producing its output; check the model for degenerate geometry")
		}
		outputs[i].SizeBytes = info.Size()
	}
	return domain.InvokeEvent{Terminal: true, Artifacts: outputs}
}

func classifyExit(waitErr error, stderr string) domain.InvokeEvent {
	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "cannot allocate") {
		return failure(domain.FailureResourceExhausted,
			"inference ran out of memory",
			"try a model with fewer vertices, or retry when the GPU is idle")
	}

	msg := firstLine(stderr)
	if msg == "" {
		msg = waitErr.Error()
	}
	return failure(domain.FailureExitStatus, msg, "")
}

func failure(code, message, hint string) domain.InvokeEvent {
	return domain.InvokeEvent{
		Terminal: true,
		Failure:  &domain.JobError{Code: code, Message: message, Hint: hint},
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// progressCheckpoints maps stdout keywords to coarse progress values. The
// scripts log phases rather than percentages, so these are the known phase
// markers in pipeline order.
var progressCheckpoints = []struct {
	keyword  string
	progress float64
}{
	{"loading", 0.3},
	{"processing", 0.5},
	{"computing", 0.5},
	{"merging", 0.6},
	{"generating", 0.7},
	{"saving", 0.9},
	{"exporting", 0.9},
}

func progressFor(line string) (float64, bool) {
	lower := strings.ToLower(line)
	for _, cp := range progressCheckpoints {
		if strings.Contains(lower, cp.keyword) {
			return cp.progress, true
		}
	}
	return 0, false
}
