// Package python prepares the bundled uv project that backs the local
// sentence-transformers embedding provider.
package python

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/jmbish04/gh-stars-sink/internal/errors"
	"github.com/jmbish04/gh-stars-sink/internal/logging"
)

//go:embed scripts/*
var scriptFiles embed.FS

// EmbedScript is the script speaking the command embedding protocol.
const EmbedScript = "embed.py"

const (
	uvSyncTimeout = 10 * time.Minute
	stampFile     = ".scripts-digest"
)

// FindUV locates the uv binary in PATH.
func FindUV() (string, error) {
	uvPath, err := exec.LookPath("uv")
	if err != nil {
		return "", apperrors.NewConfigError("uv not found in PATH", "embedding.provider").
			WithSuggestion("Install uv from https://docs.astral.sh/uv/getting-started/installation/")
	}

	return uvPath, nil
}

// EnsureEnvironment materialises the bundled project under cacheDir/python
// and returns its directory. uv sync only runs when the bundled files
// differ from the ones the environment was last synced with.
func EnsureEnvironment(ctx context.Context, uvPath, cacheDir string) (string, error) {
	projectDir := filepath.Join(cacheDir, "python")

	digest, err := extractScripts(projectDir)
	if err != nil {
		return "", fmt.Errorf("failed to extract Python scripts: %w", err)
	}

	if !needsSync(projectDir, digest) {
		logging.Debugf("python environment in %s is current", projectDir)
		return projectDir, nil
	}

	if err := uvSync(ctx, uvPath, projectDir); err != nil {
		return "", apperrors.NewDependencyError(err, "uv")
	}

	if err := os.WriteFile(filepath.Join(projectDir, stampFile), []byte(digest), 0o644); err != nil {
		return "", fmt.Errorf("failed to record environment digest: %w", err)
	}

	return projectDir, nil
}

// ScriptArgs returns the argv that runs a bundled script through uv.
func ScriptArgs(uvPath, projectDir, scriptName string, args ...string) []string {
	argv := []string{
		uvPath, "run",
		"--project", projectDir,
		"--quiet",
		"python", filepath.Join(projectDir, scriptName),
	}

	return append(argv, args...)
}

// needsSync is false when the virtualenv exists and was built from the
// same bundled files.
func needsSync(projectDir, digest string) bool {
	if _, err := os.Stat(filepath.Join(projectDir, ".venv")); err != nil {
		return true
	}

	stamp, err := os.ReadFile(filepath.Join(projectDir, stampFile))
	if err != nil {
		return true
	}

	return string(bytes.TrimSpace(stamp)) != digest
}

// extractScripts writes the bundled files into projectDir, leaving files
// with identical content untouched, and returns a digest of all of them.
func extractScripts(projectDir string) (string, error) {
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}

	var paths []string

	err := fs.WalkDir(scriptFiles, "scripts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			paths = append(paths, path)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(paths)

	h := xxhash.New()

	for _, path := range paths {
		content, err := scriptFiles.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read embedded file %s: %w", path, err)
		}

		relPath, err := filepath.Rel("scripts", path)
		if err != nil {
			return "", err
		}

		_, _ = h.WriteString(relPath)
		_, _ = h.Write(content)

		targetPath := filepath.Join(projectDir, relPath)
		if existing, err := os.ReadFile(targetPath); err == nil && bytes.Equal(existing, content) {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return "", err
		}

		if err := os.WriteFile(targetPath, content, 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", targetPath, err)
		}
	}

	return strconv.FormatUint(h.Sum64(), 16), nil
}

func uvSync(ctx context.Context, uvPath, projectDir string) error {
	ctx, cancel := context.WithTimeout(ctx, uvSyncTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, uvPath, "sync", "--project", projectDir, "--quiet")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("uv sync timed out after %v (the first run downloads torch)", uvSyncTimeout)
		}

		return fmt.Errorf("uv sync failed: %w", err)
	}

	return nil
}
