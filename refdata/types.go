// Package refdata holds the read-only classification reference entities
// (sections, chapters, headings) and the providers that serve them. The
// engine only ever reads a snapshot; record lifecycle is owned by whatever
// store backs the Provider.
package refdata

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindSection Kind = "section"
	KindChapter Kind = "chapter"
	KindHeading Kind = "heading"
)

// Section is a top-level grouping with a free-text scope statement.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Scope string `json:"scope"`
}

// Note is one exclusion or inclusion clause from a chapter's legal notes.
// RedirectChapter is set when the clause redirects classification to another
// chapter ("... see chapter 73").
type Note struct {
	Text            string `json:"text"`
	RedirectChapter string `json:"redirect_chapter,omitempty"`
}

// Definition is a chapter-local term definition ("in this chapter, X means ...").
type Definition struct {
	Term    string `json:"term"`
	Meaning string `json:"meaning"`
}

type Chapter struct {
	ID          string       `json:"id"`
	SectionID   string       `json:"section_id"`
	Title       string       `json:"title"`
	Preamble    string       `json:"preamble"`
	Exclusions  []Note       `json:"exclusions,omitempty"`
	Inclusions  []Note       `json:"inclusions,omitempty"`
	Definitions []Definition `json:"definitions,omitempty"`
}

// SubheadingNote is a note attached below the heading level. Prefix scopes
// the note to subheading codes starting with it; an empty prefix applies to
// every subheading of the heading.
type SubheadingNote struct {
	Prefix  string `json:"prefix,omitempty"`
	Text    string `json:"text"`
	Exclude bool   `json:"exclude"`
}

type Heading struct {
	ID              string           `json:"id"`
	ChapterID       string           `json:"chapter_id"`
	Description     string           `json:"description"`
	SubheadingNotes []SubheadingNote `json:"subheading_notes,omitempty"`
}

// Validation runs when reference data is first ingested, so malformed rows
// surface at load time instead of ad hoc at each read site.

func (s Section) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("section: id is required")
	}
	if strings.TrimSpace(s.Scope) == "" {
		return fmt.Errorf("section %s: scope text is required", s.ID)
	}
	return nil
}

func (c Chapter) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("chapter: id is required")
	}
	for i, n := range c.Exclusions {
		if strings.TrimSpace(n.Text) == "" {
			return fmt.Errorf("chapter %s: exclusion %d has empty text", c.ID, i)
		}
	}
	for i, n := range c.Inclusions {
		if strings.TrimSpace(n.Text) == "" {
			return fmt.Errorf("chapter %s: inclusion %d has empty text", c.ID, i)
		}
	}
	for i, d := range c.Definitions {
		if strings.TrimSpace(d.Term) == "" || strings.TrimSpace(d.Meaning) == "" {
			return fmt.Errorf("chapter %s: definition %d is incomplete", c.ID, i)
		}
	}
	return nil
}

func (h Heading) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return fmt.Errorf("heading: id is required")
	}
	if strings.TrimSpace(h.Description) == "" {
		return fmt.Errorf("heading %s: description is required", h.ID)
	}
	for i, n := range h.SubheadingNotes {
		if strings.TrimSpace(n.Text) == "" {
			return fmt.Errorf("heading %s: subheading note %d has empty text", h.ID, i)
		}
	}
	return nil
}
