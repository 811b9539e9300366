// Package pooltrash purges expired trash from pool namespaces.
//
// Layout under Root:
//
//	<pool>/.trash/        default namespace trash
//	<pool>/<ns>/.trash/   namespace trash
package pooltrash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maintd/internal/levelspec"
	"maintd/internal/provider"
	"maintd/internal/schedule"
	logx "maintd/pkg/logx"
)

const trashDir = ".trash"

type Config struct {
	Root string
	// MinAge keeps trash entries younger than this.
	MinAge time.Duration
}

type Provider struct {
	cfg Config
	log logx.Logger
	now func() time.Time
}

func New(cfg Config, log logx.Logger) *Provider {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Provider{cfg: cfg, log: log.With(logx.String("comp", "pooltrash")), now: time.Now}
}

// SetClock replaces the time source.
func (p *Provider) SetClock(now func() time.Time) { p.now = now }

func (p *Provider) Kind() levelspec.Kind { return levelspec.KindPool }

func (p *Provider) ListParents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pools, err := provider.SubDirs(p.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: list pools in %s: %v", provider.ErrUnavailable, p.cfg.Root, err)
	}
	return pools, nil
}

// ListChildren returns the namespaces of pool. The default namespace ""
// always exists while the pool does.
func (p *Provider) ListChildren(ctx context.Context, pool string, wanted []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(p.cfg.Root, pool)
	nss, err := provider.SubDirs(dir)
	if err != nil {
		return nil, fmt.Errorf("list namespaces of %s: %w", pool, err)
	}
	all := append([]string{""}, nss...)
	if wanted == nil {
		return all, nil
	}
	want := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		want[w] = true
	}
	out := all[:0]
	for _, ns := range all {
		if want[ns] {
			out = append(out, ns)
		}
	}
	return out, nil
}

func (p *Provider) scopeDir(s levelspec.Scope) string {
	if s.Child == "" {
		return filepath.Join(p.cfg.Root, s.Parent)
	}
	return filepath.Join(p.cfg.Root, s.Parent, s.Child)
}

// Execute removes trash entries older than MinAge.
func (p *Provider) Execute(ctx context.Context, s levelspec.Scope, rec schedule.Record) provider.Result {
	if strings.ContainsAny(s.Parent+s.Child, `/\`) || s.Parent == "" {
		return provider.Permanent(fmt.Errorf("bad pool scope %s", s))
	}
	dir := p.scopeDir(s)
	if !provider.IsDir(dir) {
		return provider.Permanent(fmt.Errorf("%s: %w", s, provider.ErrScopeGone))
	}

	ents, err := os.ReadDir(filepath.Join(dir, trashDir))
	if errors.Is(err, os.ErrNotExist) {
		return provider.OK(0)
	}
	if err != nil {
		return provider.Transient(fmt.Errorf("read trash of %s: %w", s, err))
	}

	cutoff := p.now().Add(-p.cfg.MinAge)
	purged := 0
	var firstErr error
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return provider.Transient(err)
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, trashDir, e.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		purged++
	}
	p.log.Debug("trash purged",
		logx.String("scope", s.String()),
		logx.String("schedule", rec.Key()),
		logx.Int("purged", purged),
	)
	if firstErr != nil {
		return provider.Transient(fmt.Errorf("purge trash of %s: %w", s, firstErr))
	}
	return provider.OK(purged)
}
