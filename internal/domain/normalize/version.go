package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Version is a tool version reduced to major.minor.patch.
type Version struct {
	Major, Minor, Patch int
	Raw                 string
}

// ParseVersion extracts the first dotted version number from text.
func ParseVersion(text string) (Version, bool) {
	m := versionRe.FindStringSubmatch(text)
	if m == nil {
		return Version{}, false
	}
	v := Version{Raw: m[0]}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, true
}

// MustVersion parses a literal version and panics on bad input. For tables only.
func MustVersion(s string) Version {
	v, ok := ParseVersion(s)
	if !ok {
		panic(fmt.Sprintf("normalize: bad version literal %q", s))
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	for _, d := range [][2]int{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}} {
		switch {
		case d[0] < d[1]:
			return -1
		case d[0] > d[1]:
			return 1
		}
	}
	return 0
}

// IsZero reports whether v is the zero value.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

// Format binds a version range to the arguments and structured strategy
// the tool supports in that range. Min is inclusive, Below exclusive;
// a zero bound is open.
type Format struct {
	Min        Version
	Below      Version
	Args       []string
	Structured Strategy
}

func (f Format) matches(v Version) bool {
	if !f.Min.IsZero() && v.Compare(f.Min) < 0 {
		return false
	}
	if !f.Below.IsZero() && v.Compare(f.Below) >= 0 {
		return false
	}
	return true
}

// SelectFormat returns the first format whose range holds v.
func SelectFormat(formats []Format, v Version) (Format, bool) {
	for _, f := range formats {
		if f.matches(v) {
			return f, true
		}
	}
	return Format{}, false
}

type versionEntry struct {
	raw string
	err error
}

// VersionCache probes each tool at most once per process, failures included.
type VersionCache struct {
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]versionEntry
}

func NewVersionCache() *VersionCache {
	return &VersionCache{entries: make(map[string]versionEntry)}
}

// Get returns the cached probe result for key, running probe on first use.
// Concurrent first callers share a single probe.
func (c *VersionCache) Get(ctx context.Context, key string, probe func(context.Context) (string, error)) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e.raw, e.err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return e.raw, e.err
		}
		raw, err := probe(ctx)
		c.mu.Lock()
		c.entries[key] = versionEntry{raw: raw, err: err}
		c.mu.Unlock()
		return raw, err
	})
	raw, _ := v.(string)
	return raw, err
}

// Reset forgets every cached probe.
func (c *VersionCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]versionEntry)
	c.mu.Unlock()
}
