// Package fssnap takes scheduled directory snapshots.
//
// Layout under Root: <fs>/<path>/.snap/<prefix>-2006-01-02-15_04_05.
// A snapshot is an empty marker directory; its name carries the UTC
// creation time and is what retention sorts and buckets by.
package fssnap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/provider"
	"maintd/internal/retention"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

const (
	snapDir       = ".snap"
	nameLayout    = "2006-01-02-15_04_05"
	defaultPrefix = "scheduled"
	defaultDepth  = 2
)

type Config struct {
	Root   string
	Prefix string
	// MaxDepth bounds path discovery when a schedule covers a whole
	// filesystem. 0 means the default.
	MaxDepth int
}

type Provider struct {
	cfg Config
	log logx.Logger
	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Provider {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultDepth
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{cfg: cfg, log: log.With(logx.String("comp", "fssnap")), now: time.Now}
}

// SetClock replaces the time source.
func (p *Provider) SetClock(now func() time.Time) { p.now = now }

func (p *Provider) Kind() levelspec.Kind { return levelspec.KindFS }

func (p *Provider) ListParents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fss, err := provider.SubDirs(p.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: list filesystems in %s: %v", provider.ErrUnavailable, p.cfg.Root, err)
	}
	return fss, nil
}

// ListChildren returns the wanted paths that exist, or every directory
// down to MaxDepth when wanted is nil.
func (p *Provider) ListChildren(ctx context.Context, fsName string, wanted []string) ([]string, error) {
	base := filepath.Join(p.cfg.Root, fsName)
	if !provider.IsDir(base) {
		return nil, fmt.Errorf("filesystem %s: %w", fsName, provider.ErrScopeGone)
	}
	if wanted != nil {
		out := make([]string, 0, len(wanted))
		for _, w := range wanted {
			if provider.IsDir(p.hostPath(fsName, w)) {
				out = append(out, w)
			}
		}
		sort.Strings(out)
		return out, nil
	}

	out := []string{"/"}
	err := filepath.WalkDir(base, func(cur string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if cur == base || !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(base, cur)
		if err != nil {
			return err
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		out = append(out, "/"+filepath.ToSlash(rel))
		if depth >= p.cfg.MaxDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", fsName, err)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Provider) hostPath(fsName, child string) string {
	return filepath.Join(p.cfg.Root, fsName, filepath.FromSlash(path.Clean("/"+child)))
}

// Execute creates one snapshot of the scope path.
func (p *Provider) Execute(ctx context.Context, s levelspec.Scope, rec schedule.Record) provider.Result {
	if err := ctx.Err(); err != nil {
		return provider.Transient(err)
	}
	dir := p.hostPath(s.Parent, s.Child)
	if s.Parent == "" || !provider.IsDir(dir) {
		return provider.Permanent(fmt.Errorf("%s: %w", s, provider.ErrScopeGone))
	}
	name := p.cfg.Prefix + "-" + p.now().UTC().Format(nameLayout)
	target := filepath.Join(dir, snapDir, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return provider.Transient(fmt.Errorf("create %s in %s: %w", snapDir, s, err))
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return provider.OK(0)
		}
		return provider.Transient(fmt.Errorf("snapshot %s: %w", s, err))
	}
	p.log.Info("snapshot created",
		logx.String("scope", s.String()),
		logx.String("schedule", rec.Key()),
		logx.String("snapshot", name),
	)
	return provider.OK(1)
}

// ListArtifacts returns this provider's snapshots of the scope. Foreign
// entries in .snap are ignored.
func (p *Provider) ListArtifacts(ctx context.Context, s levelspec.Scope) ([]retention.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(filepath.Join(p.hostPath(s.Parent, s.Child), snapDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefix := p.cfg.Prefix + "-"
	var out []retention.Candidate
	for _, e := range ents {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		t, err := time.ParseInLocation(nameLayout, strings.TrimPrefix(name, prefix), time.UTC)
		if err != nil {
			continue
		}
		out = append(out, retention.Candidate{Name: name, Time: t})
	}
	return out, nil
}

func (p *Provider) DeleteArtifact(ctx context.Context, s levelspec.Scope, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(name, p.cfg.Prefix+"-") || strings.ContainsAny(name, `/\`) {
		return provider.NoRetry(fmt.Errorf("refusing to delete foreign snapshot %q", name))
	}
	err := os.RemoveAll(filepath.Join(p.hostPath(s.Parent, s.Child), snapDir, name))
	if err == nil {
		p.log.Debug("snapshot pruned", logx.String("scope", s.String()), logx.String("snapshot", name))
	}
	return err
}
