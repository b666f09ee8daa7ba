package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"semcache/internal/shared/util"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/singleflight"
)

// Fetcher clones libraries from git into a libraries directory. Concurrent
// fetches of one library share a single clone.
type Fetcher struct {
	dir string
	sf  singleflight.Group
}

func NewFetcher(dir string) *Fetcher {
	return &Fetcher{dir: dir}
}

// Fetch clones url into <dir>/<name> and checks out revision when one is
// given. A library that is already present is left alone.
func (f *Fetcher) Fetch(ctx context.Context, name, url, revision string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || util.ContainsPathSeparator(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid library name %q", name)
	}
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("library %s: repository URL required", name)
	}
	v, err, shared := f.sf.Do(name, func() (interface{}, error) {
		return f.fetch(ctx, name, url, revision)
	})
	if shared {
		slog.Debug("library fetch shared", "library", name)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) fetch(ctx context.Context, name, url, revision string) (string, error) {
	target := filepath.Join(f.dir, name)
	if hasManifest(target) {
		return target, nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp(f.dir, ".fetch-*")
	if err != nil {
		return "", err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	if err := os.RemoveAll(tmpDir); err != nil {
		return "", err
	}

	repo, err := git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{URL: url})
	if err != nil {
		cleanup()
		return "", fmt.Errorf("git clone %s: %w", url, err)
	}

	if rev := strings.TrimSpace(revision); rev != "" {
		hash, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			cleanup()
			return "", fmt.Errorf("resolve revision %s: %w", rev, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			cleanup()
			return "", err
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
			cleanup()
			return "", fmt.Errorf("git checkout %s: %w", rev, err)
		}
	}

	if !hasManifest(tmpDir) {
		cleanup()
		return "", fmt.Errorf("repository %s has no %s", url, ManifestFile)
	}
	if err := os.Rename(tmpDir, target); err != nil {
		cleanup()
		return "", err
	}
	slog.Info("library fetched", "library", name, "url", url, "revision", revision, "dir", target)
	return target, nil
}
