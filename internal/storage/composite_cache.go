package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"teamshots/internal/domain"
	"teamshots/internal/infra"
)

// DefaultCompositeTTL bounds how long a staged composite may be reused.
const DefaultCompositeTTL = 10 * time.Minute

// CompositeCache stages composites on local disk keyed by generation and
// composite type. Every lookup may miss; callers recompute on a miss.
type CompositeCache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger infra.Logger
}

type compositeSidecar struct {
	domain.CachedComposite
	StoredAt time.Time `json:"storedAt"`
}

// NewCompositeCache prepares dir. A non-positive ttl uses DefaultCompositeTTL.
func NewCompositeCache(dir string, ttl time.Duration, logger *infra.Logger) (*CompositeCache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("composite cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("composite cache: ensure directory: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCompositeTTL
	}
	return &CompositeCache{dir: dir, ttl: ttl, now: time.Now, logger: infra.OrNop(logger)}, nil
}

// Get returns the cached composite and its bytes, or ok=false on any miss.
func (c *CompositeCache) Get(generationID string, kind domain.CompositeType) (domain.CachedComposite, []byte, bool) {
	if c == nil {
		return domain.CachedComposite{}, nil, false
	}
	dataPath, metaPath, err := c.paths(generationID, kind)
	if err != nil {
		return domain.CachedComposite{}, nil, false
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return domain.CachedComposite{}, nil, false
	}
	var meta compositeSidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.CachedComposite{}, nil, false
	}
	if c.now().Sub(meta.StoredAt) > c.ttl {
		return domain.CachedComposite{}, nil, false
	}
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return domain.CachedComposite{}, nil, false
	}
	meta.Path = dataPath
	return meta.CachedComposite, data, true
}

// Put stages data for (generationID, kind). Failures are returned but callers
// may ignore them.
func (c *CompositeCache) Put(generationID string, kind domain.CompositeType, mime, description string, data []byte) (domain.CachedComposite, error) {
	if c == nil {
		return domain.CachedComposite{}, errors.New("composite cache: not configured")
	}
	dataPath, metaPath, err := c.paths(generationID, kind)
	if err != nil {
		return domain.CachedComposite{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return domain.CachedComposite{}, fmt.Errorf("composite cache: ensure directory: %w", err)
	}
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return domain.CachedComposite{}, fmt.Errorf("composite cache: write data: %w", err)
	}
	entry := domain.CachedComposite{
		GenerationID: generationID,
		Type:         kind,
		Path:         dataPath,
		MimeType:     mime,
		Description:  description,
	}
	raw, err := json.Marshal(compositeSidecar{CachedComposite: entry, StoredAt: c.now()})
	if err != nil {
		return domain.CachedComposite{}, err
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return domain.CachedComposite{}, fmt.Errorf("composite cache: write sidecar: %w", err)
	}
	return entry, nil
}

// Sweep deletes every generation directory whose newest entry is older than
// the TTL and returns how many were removed.
func (c *CompositeCache) Sweep(now time.Time) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		genDir := filepath.Join(c.dir, entry.Name())
		if c.fresh(genDir, now) {
			continue
		}
		if err := os.RemoveAll(genDir); err != nil {
			c.logger.Warn().Err(err).Str("dir", genDir).Msg("composite cache: sweep failed")
			continue
		}
		removed++
	}
	return removed
}

// Janitor sweeps every interval until ctx is done.
func (c *CompositeCache) Janitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = c.ttl / 2
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				c.logger.Debug().Int("removed", n).Msg("composite cache: swept expired entries")
			}
		}
	}
}

func (c *CompositeCache) fresh(genDir string, now time.Time) bool {
	files, err := os.ReadDir(genDir)
	if err != nil {
		return false
	}
	for _, f := range files {
		info, err := f.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= c.ttl {
			return true
		}
	}
	return false
}

func (c *CompositeCache) paths(generationID string, kind domain.CompositeType) (string, string, error) {
	gen, err := sanitizeKey(generationID)
	if err != nil || strings.Contains(gen, "/") {
		return "", "", fmt.Errorf("composite cache: invalid generation id %q", generationID)
	}
	name := string(kind)
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return "", "", fmt.Errorf("composite cache: invalid composite type %q", kind)
	}
	base := filepath.Join(c.dir, gen, name)
	return base + ".png", base + ".json", nil
}
