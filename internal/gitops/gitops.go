// Package gitops wraps the git CLI for local working-tree inspection.
// All operations run through exec with a bounded context so a hung git
// process cannot block callers.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

const (
	// DefaultTimeout bounds ordinary git operations
	DefaultTimeout = 5 * time.Second
	// StaleCheckTimeout bounds the staleness probe so a hung git
	// operation cannot block the UI
	StaleCheckTimeout = 2 * time.Second
)

// run executes a git command in repoPath and returns trimmed stdout
func run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmdArgs := append([]string{"-C", repoPath}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.Wrap(errors.ErrCodeGitTimeout,
				fmt.Sprintf("git %s timed out", args[0]), err)
		}
		return "", errors.Wrap(errors.ErrCodeGitCommand,
			fmt.Sprintf("git %s failed: %s", args[0], strings.TrimSpace(stderr.String())), err)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// RepoRoot resolves the enclosing git repository root for a path
func RepoRoot(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.ErrValidation("path does not exist")
	}
	if !info.IsDir() {
		path = filepath.Dir(path)
	}

	root, err := run(ctx, path, "rev-parse", "--show-toplevel")
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok && appErr.Code == errors.ErrCodeGitTimeout {
			return "", err
		}
		return "", errors.New(errors.ErrCodeNotGitRepo, "path is not inside a git repository")
	}
	return root, nil
}

// HeadSHA returns the current HEAD commit hash
func HeadSHA(ctx context.Context, repoPath string) (string, error) {
	return run(ctx, repoPath, "rev-parse", "HEAD")
}

// CurrentBranch returns the current branch name, or "HEAD" when detached
func CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	return run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
}

var remoteURLPattern = regexp.MustCompile(`[:/]([^/:]+/[^/:]+?)(\.git)?$`)

// OriginRepository derives an owner/name identifier from the origin remote.
// Best-effort: returns empty string when there is no origin or the URL shape
// is unrecognized.
func OriginRepository(ctx context.Context, repoPath string) string {
	url, err := run(ctx, repoPath, "remote", "get-url", "origin")
	if err != nil {
		return ""
	}
	m := remoteURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return ""
	}
	return m[1]
}

// Snapshot is a captured working-tree state
type Snapshot struct {
	DiffText       string
	Stats          model.DiffStats
	GeneratedFiles []string
}

// CaptureDiff captures the working tree relative to HEAD: tracked changes via
// git diff plus synthesized hunks for untracked files, with status counts.
func CaptureDiff(ctx context.Context, repoPath string) (*Snapshot, error) {
	diff, err := run(ctx, repoPath, "diff", "HEAD")
	if err != nil {
		return nil, err
	}

	status, err := run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	stats, untracked := parseStatus(status)

	var sb strings.Builder
	sb.WriteString(diff)
	for _, file := range untracked {
		hunk, synthErr := synthesizeUntracked(repoPath, file)
		if synthErr != nil {
			// Unreadable or binary untracked files are counted but not inlined
			continue
		}
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(hunk)
	}

	full := sb.String()
	return &Snapshot{
		DiffText:       full,
		Stats:          stats,
		GeneratedFiles: DetectGeneratedFiles(full),
	}, nil
}

// parseStatus counts tracked/untracked/staged/unstaged entries from
// `git status --porcelain` output and collects untracked paths.
func parseStatus(output string) (model.DiffStats, []string) {
	var stats model.DiffStats
	var untracked []string

	for _, line := range strings.Split(output, "\n") {
		if len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		path := strings.TrimSpace(line[3:])

		if x == '?' && y == '?' {
			stats.UntrackedFiles++
			untracked = append(untracked, path)
			continue
		}
		stats.TrackedChanges++
		if x != ' ' && x != '?' {
			stats.StagedChanges++
		}
		if y != ' ' {
			stats.UnstagedChanges++
		}
	}
	return stats, untracked
}

// synthesizeUntracked renders an untracked file as a new-file diff hunk so
// providers see its full content alongside tracked changes
func synthesizeUntracked(repoPath, file string) (string, error) {
	content, err := os.ReadFile(filepath.Join(repoPath, file))
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return "", fmt.Errorf("binary file")
	}

	text := string(content)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if text == "" {
		lines = nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "diff --git a/%s b/%s\n", file, file)
	sb.WriteString("new file mode 100644\n")
	fmt.Fprintf(&sb, "--- /dev/null\n+++ b/%s\n", file)
	if len(lines) > 0 {
		fmt.Fprintf(&sb, "@@ -0,0 +1,%d @@\n", len(lines))
		for _, line := range lines {
			sb.WriteString("+" + line + "\n")
		}
	}
	return sb.String(), nil
}

var generatedFilePatterns = []string{
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum",
	"Cargo.lock", "composer.lock", "Gemfile.lock", "poetry.lock",
}

// DetectGeneratedFiles lists files in the diff that are lockfiles or
// generated artifacts, so clients can collapse them by default
func DetectGeneratedFiles(diff string) []string {
	var generated []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "diff --git a/") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		file := strings.TrimPrefix(parts[3], "b/")
		if seen[file] {
			continue
		}
		base := filepath.Base(file)
		isGenerated := strings.HasSuffix(base, ".pb.go") || strings.HasSuffix(base, ".min.js")
		for _, p := range generatedFilePatterns {
			if base == p {
				isGenerated = true
				break
			}
		}
		if isGenerated {
			seen[file] = true
			generated = append(generated, file)
		}
	}
	return generated
}
