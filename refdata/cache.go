package refdata

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Ref identifies one reference record for preloading.
type Ref struct {
	Kind Kind
	ID   string
}

type sectionEntry struct {
	rec Section
	err error
}

type chapterEntry struct {
	rec Chapter
	err error
}

type headingEntry struct {
	rec Heading
	err error
}

// Cache memoizes reference lookups for the lifetime of one run so that
// repeated lookups of the same record cost at most one external read.
// Not-found results are memoized too; transient provider errors are not, so
// a later lookup may still succeed. Construct a fresh Cache per run (or per
// batch sharing one snapshot) and pass it by parameter; it must never live
// in process-wide state.
type Cache struct {
	provider Provider

	mu       sync.Mutex
	sections map[string]sectionEntry
	chapters map[string]chapterEntry
	headings map[string]headingEntry
}

func NewCache(provider Provider) *Cache {
	return &Cache{
		provider: provider,
		sections: map[string]sectionEntry{},
		chapters: map[string]chapterEntry{},
		headings: map[string]headingEntry{},
	}
}

func (c *Cache) Section(ctx context.Context, id string) (Section, error) {
	c.mu.Lock()
	if e, ok := c.sections[id]; ok {
		c.mu.Unlock()
		return e.rec, e.err
	}
	c.mu.Unlock()

	rec, err := c.provider.Section(ctx, id)
	c.store(func() {
		if err == nil || errors.Is(err, ErrNotFound) {
			c.sections[id] = sectionEntry{rec: rec, err: err}
		}
	})
	return rec, err
}

func (c *Cache) Chapter(ctx context.Context, id string) (Chapter, error) {
	c.mu.Lock()
	if e, ok := c.chapters[id]; ok {
		c.mu.Unlock()
		return e.rec, e.err
	}
	c.mu.Unlock()

	rec, err := c.provider.Chapter(ctx, id)
	c.store(func() {
		if err == nil || errors.Is(err, ErrNotFound) {
			c.chapters[id] = chapterEntry{rec: rec, err: err}
		}
	})
	return rec, err
}

func (c *Cache) Heading(ctx context.Context, id string) (Heading, error) {
	c.mu.Lock()
	if e, ok := c.headings[id]; ok {
		c.mu.Unlock()
		return e.rec, e.err
	}
	c.mu.Unlock()

	rec, err := c.provider.Heading(ctx, id)
	c.store(func() {
		if err == nil || errors.Is(err, ErrNotFound) {
			c.headings[id] = headingEntry{rec: rec, err: err}
		}
	})
	return rec, err
}

func (c *Cache) store(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Preload fetches the given records concurrently and memoizes the results.
// Lookup failures are swallowed here; stages observe them on their own
// lookups and degrade per record.
func (c *Cache) Preload(ctx context.Context, refs []Ref) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	seen := map[Ref]struct{}{}
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		ref := ref
		g.Go(func() error {
			switch ref.Kind {
			case KindSection:
				_, _ = c.Section(ctx, ref.ID)
			case KindChapter:
				_, _ = c.Chapter(ctx, ref.ID)
			case KindHeading:
				_, _ = c.Heading(ctx, ref.ID)
			}
			return nil
		})
	}
	_ = g.Wait()
}
