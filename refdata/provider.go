package refdata

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound marks a missing reference record. Engine callers treat it as
// "no data available", not as a failure.
var ErrNotFound = errors.New("refdata: record not found")

// Provider is the read-only reference store contract. Implementations are
// injected into the engine rather than hard-wired.
type Provider interface {
	Section(ctx context.Context, id string) (Section, error)
	Chapter(ctx context.Context, id string) (Chapter, error)
	Heading(ctx context.Context, id string) (Heading, error)
}

// MemProvider serves records from in-memory maps. Used in tests and by
// orchestrators that load a full snapshot up front.
type MemProvider struct {
	mu       sync.RWMutex
	sections map[string]Section
	chapters map[string]Chapter
	headings map[string]Heading
}

func NewMemProvider() *MemProvider {
	return &MemProvider{
		sections: map[string]Section{},
		chapters: map[string]Chapter{},
		headings: map[string]Heading{},
	}
}

func (p *MemProvider) AddSection(s Section) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sections[s.ID] = s
	return nil
}

func (p *MemProvider) AddChapter(c Chapter) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chapters[c.ID] = c
	return nil
}

func (p *MemProvider) AddHeading(h Heading) error {
	if err := h.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headings[h.ID] = h
	return nil
}

func (p *MemProvider) Section(_ context.Context, id string) (Section, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sections[id]
	if !ok {
		return Section{}, ErrNotFound
	}
	return s, nil
}

func (p *MemProvider) Chapter(_ context.Context, id string) (Chapter, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.chapters[id]
	if !ok {
		return Chapter{}, ErrNotFound
	}
	return c, nil
}

func (p *MemProvider) Heading(_ context.Context, id string) (Heading, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.headings[id]
	if !ok {
		return Heading{}, ErrNotFound
	}
	return h, nil
}

var _ Provider = (*MemProvider)(nil)
