package driver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/r0nsha/chili-ls/internal/diag"
	"github.com/r0nsha/chili-ls/internal/source"
)

// Current schema version - increment when cachePayload format changes.
const cacheSchemaVersion uint16 = 1

// Digest is a sha256 content key.
type Digest = [32]byte

// Cache persists decoded checker results across runs. Keyed by a
// digest of everything that can change the output: tool path, include
// dirs, extra args and file content. Best-effort and opt-in; callers
// ignore its errors. A nil *Cache is a valid no-op cache.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

type cachePayload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16
	Diags  []cachedDiag
}

type cachedDiag struct {
	Severity uint8
	Start    uint32
	End      uint32
	Message  string
	Source   string
}

// OpenCache initializes and returns a cache at the standard location,
// $XDG_CACHE_HOME/<app> or ~/.cache/<app>.
func OpenCache(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// CacheKey digests one checker invocation.
func CacheKey(toolPath string, includeDirs, extraArgs []string, content []byte) Digest {
	h := sha256.New()
	h.Write([]byte(toolPath))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(includeDirs, IncludePathSep)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(extraArgs, "\x00")))
	h.Write([]byte{0})
	h.Write(content)
	var key Digest
	copy(key[:], h.Sum(nil))
	return key
}

func (c *Cache) pathFor(key Digest) string {
	hexKey := hex.EncodeToString(key[:])
	// Subdirectory keeps the cache root listable and easy to clean.
	return filepath.Join(c.dir, "checks", hexKey+".mp")
}

// Put serializes and writes decoded diagnostics under key.
func (c *Cache) Put(key Digest, diags []diag.Diagnostic) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := cachePayload{
		Schema: cacheSchemaVersion,
		Diags:  make([]cachedDiag, len(diags)),
	}
	for i, d := range diags {
		payload.Diags[i] = cachedDiag{
			Severity: uint8(d.Severity),
			Start:    d.Span.Start,
			End:      d.Span.End,
			Message:  d.Message,
			Source:   d.Source,
		}
	}

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		// Already renamed on success; removal failing then is fine.
		_ = os.Remove(f.Name())
	}()

	if err := msgpack.NewEncoder(f).Encode(&payload); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Atomic replace
	return os.Rename(f.Name(), p)
}

// Get reads decoded diagnostics stored under key. The boolean reports
// a hit; payloads from older schema versions read as misses.
func (c *Cache) Get(key Digest) ([]diag.Diagnostic, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() {
		_ = f.Close()
	}()

	var payload cachePayload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, false, err
	}
	if payload.Schema != cacheSchemaVersion {
		return nil, false, nil
	}

	diags := make([]diag.Diagnostic, len(payload.Diags))
	for i, d := range payload.Diags {
		diags[i] = diag.Diagnostic{
			Severity: diag.Severity(d.Severity),
			Span:     source.Span{Start: d.Start, End: d.End},
			Message:  d.Message,
			Source:   d.Source,
		}
	}
	return diags, true, nil
}

// DropAll invalidates the cache, useful after format changes.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
