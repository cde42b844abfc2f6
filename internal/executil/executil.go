// Package executil builds the external commands jeand shells out to
// (git, gh, and the agent CLIs), resolving each against a vetted PATH
// so a writable directory on the user's PATH cannot shadow a binary.
package executil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// trustedDirs are searched ahead of the inherited PATH.
var trustedDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
	"/opt/homebrew/bin",
}

// Command resolves name against the vetted PATH and builds an exec.Cmd
// whose environment carries that same PATH.
func Command(name string, args ...string) (*exec.Cmd, error) {
	path, env, err := resolve(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	cmd.Env = env
	return cmd, nil
}

// CommandContext is Command with a context governing the process.
func CommandContext(ctx context.Context, name string, args ...string) (*exec.Cmd, error) {
	path, env, err := resolve(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env
	return cmd, nil
}

func resolve(name string) (string, []string, error) {
	dirs := searchDirs()
	path, err := lookPath(name, dirs)
	if err != nil {
		return "", nil, err
	}
	env := append(envWithout("PATH"), "PATH="+strings.Join(dirs, string(os.PathListSeparator)))
	return path, env, nil
}

// searchDirs merges the trusted directories with the inherited PATH,
// dropping duplicates, relative entries, and group/world-writable
// directories. If vetting rejects everything, the trusted set is used
// as-is rather than leaving no PATH at all.
func searchDirs() []string {
	seen := make(map[string]struct{})
	var dirs []string
	candidates := append(append([]string{}, trustedDirs...), filepath.SplitList(os.Getenv("PATH"))...)
	for _, dir := range candidates {
		if dir == "" || !filepath.IsAbs(dir) {
			continue
		}
		dir = filepath.Clean(dir)
		if _, dup := seen[dir]; dup {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.Mode().Perm()&0o022 != 0 {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	if len(dirs) == 0 {
		for _, dir := range trustedDirs {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs
}

func lookPath(name string, dirs []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if filepath.IsAbs(name) {
			return name, nil
		}
		path := filepath.Clean(name)
		if isExecutable(path) {
			return path, nil
		}
		return "", fmt.Errorf("executable not found: %s", name)
	}
	for _, dir := range dirs {
		if path := filepath.Join(dir, name); isExecutable(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in vetted PATH", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0
}

func envWithout(key string) []string {
	prefix := key + "="
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, entry := range env {
		if !strings.HasPrefix(entry, prefix) {
			out = append(out, entry)
		}
	}
	return out
}
