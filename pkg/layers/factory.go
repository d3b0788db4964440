// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// DefaultMaxCacheSize is the default maximum number of layers cached by a Factory.
const DefaultMaxCacheSize = 256

// unlimitedCacheWarning is the number of entries of an unlimited cache above which a warning is logged.
const unlimitedCacheWarning = 1000

// Factory caches constructed layers keyed by their signature: the operation, the layouts, dtypes
// and dimensions of the inputs, and the operation parameters.
//
// Building a layer (creating primitive descriptors, allocating internal memories, creating the
// reorders) is expensive compared to running it, and layers are usually called repeatedly with
// the same signatures. When the cache is full the least recently used layer is evicted.
//
// It is safe for concurrent use.
type Factory struct {
	mu           sync.Mutex
	maxCacheSize int
	entries      map[string]*list.Element
	lru          *list.List // Values are *layer, most recently used at the front.
	warned       bool
	stats        Stats
}

// Stats of a Factory cache.
type Stats struct {
	Hits, Misses, Evictions int64
	Entries                 int
}

// HitRate returns the fraction of lookups that found a cached layer, or 0 if there were none.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("%s entries, %s hits, %s misses, %s evictions (hit rate %.1f%%)",
		humanize.Comma(int64(s.Entries)), humanize.Comma(s.Hits), humanize.Comma(s.Misses),
		humanize.Comma(s.Evictions), 100*s.HitRate())
}

// NewFactory creates a layer cache. See SetMaxCacheSize for the meaning of maxCacheSize.
func NewFactory(maxCacheSize int) *Factory {
	return &Factory{
		maxCacheSize: maxCacheSize,
		entries:      make(map[string]*list.Element),
		lru:          list.New(),
	}
}

// SetMaxCacheSize sets the maximum number of cached layers, evicting the least recently used ones
// if needed. Set it to -1 for an unlimited cache, or 0 to disable caching: layers are then built
// for every call.
func (f *Factory) SetMaxCacheSize(maxCacheSize int) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxCacheSize = maxCacheSize
	f.lockedEvict()
	return f
}

// MaxCacheSize returns the current maximum number of cached layers. See SetMaxCacheSize.
func (f *Factory) MaxCacheSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxCacheSize
}

// Stats returns a snapshot of the cache statistics.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := f.stats
	stats.Entries = f.lru.Len()
	return stats
}

// Len returns the number of cached layers.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lru.Len()
}

// Layers returns information about the cached layers, most recently used first.
func (f *Factory) Layers() []LayerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos := make([]LayerInfo, 0, f.lru.Len())
	for elem := f.lru.Front(); elem != nil; elem = elem.Next() {
		infos = append(infos, elem.Value.(*layer).info())
	}
	return infos
}

// Reset drops all cached layers and zeroes the statistics.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.entries)
	f.lru.Init()
	f.stats = Stats{}
	f.warned = false
}

// get returns the layer cached under key, or builds (and caches) it with build.
//
// The build happens outside the lock, so other signatures are not blocked by it. If two
// goroutines build the same signature concurrently, the first one cached wins.
func (f *Factory) get(key string, build func() (*layer, error)) (*layer, error) {
	f.mu.Lock()
	if elem, found := f.entries[key]; found {
		f.stats.Hits++
		f.lru.MoveToFront(elem)
		f.mu.Unlock()
		return elem.Value.(*layer), nil
	}
	f.stats.Misses++
	f.mu.Unlock()

	l, err := build()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxCacheSize == 0 {
		return l, nil
	}
	if elem, found := f.entries[key]; found {
		f.lru.MoveToFront(elem)
		return elem.Value.(*layer), nil
	}
	l.key = key
	f.entries[key] = f.lru.PushFront(l)
	klog.V(1).Infof("layer cache miss: built %s with %d primitives (%d reorders), key %q",
		l.name, len(l.primitives), l.numReorders, key)
	f.lockedEvict()
	if f.maxCacheSize < 0 && !f.warned && f.lru.Len() > unlimitedCacheWarning {
		f.warned = true
		klog.Warningf("unlimited layer cache grew past %d entries: are the input shapes changing on every call?",
			unlimitedCacheWarning)
	}
	return l, nil
}

// lockedEvict removes the least recently used layers until the cache fits maxCacheSize.
// It must be called with f.mu locked.
func (f *Factory) lockedEvict() {
	if f.maxCacheSize < 0 {
		return
	}
	for f.lru.Len() > f.maxCacheSize {
		elem := f.lru.Back()
		l := f.lru.Remove(elem).(*layer)
		delete(f.entries, l.key)
		f.stats.Evictions++
		klog.V(1).Infof("layer cache full (%d entries): evicted %s, key %q", f.maxCacheSize, l.name, l.key)
	}
}
