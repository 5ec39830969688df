package refdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sections (
	section_id TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	scope      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chapters (
	chapter_id  TEXT PRIMARY KEY,
	section_id  TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	preamble    TEXT NOT NULL DEFAULT '',
	exclusions  TEXT NOT NULL DEFAULT '[]',
	inclusions  TEXT NOT NULL DEFAULT '[]',
	definitions TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS headings (
	heading_id       TEXT PRIMARY KEY,
	chapter_id       TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	subheading_notes TEXT NOT NULL DEFAULT '[]'
);
`

// SQLiteProvider serves reference records from a SQLite database. Records are
// validated as they are read, so a malformed row surfaces as an error rather
// than as silently degraded matching.
type SQLiteProvider struct {
	db *sqlx.DB
}

func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteProvider{db: db}, nil
}

func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

func (p *SQLiteProvider) Section(ctx context.Context, id string) (Section, error) {
	var s Section
	row := p.db.QueryRowContext(ctx, "SELECT section_id, title, scope FROM sections WHERE section_id = ?", id)
	if err := row.Scan(&s.ID, &s.Title, &s.Scope); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Section{}, ErrNotFound
		}
		return Section{}, fmt.Errorf("load section %s: %w", id, err)
	}
	if err := s.Validate(); err != nil {
		return Section{}, fmt.Errorf("load section %s: %w", id, err)
	}
	return s, nil
}

func (p *SQLiteProvider) Chapter(ctx context.Context, id string) (Chapter, error) {
	var c Chapter
	var exclusions, inclusions, definitions string
	row := p.db.QueryRowContext(ctx,
		"SELECT chapter_id, section_id, title, preamble, exclusions, inclusions, definitions FROM chapters WHERE chapter_id = ?", id)
	if err := row.Scan(&c.ID, &c.SectionID, &c.Title, &c.Preamble, &exclusions, &inclusions, &definitions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chapter{}, ErrNotFound
		}
		return Chapter{}, fmt.Errorf("load chapter %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(exclusions), &c.Exclusions); err != nil {
		return Chapter{}, fmt.Errorf("load chapter %s: exclusions: %w", id, err)
	}
	if err := json.Unmarshal([]byte(inclusions), &c.Inclusions); err != nil {
		return Chapter{}, fmt.Errorf("load chapter %s: inclusions: %w", id, err)
	}
	if err := json.Unmarshal([]byte(definitions), &c.Definitions); err != nil {
		return Chapter{}, fmt.Errorf("load chapter %s: definitions: %w", id, err)
	}
	if err := c.Validate(); err != nil {
		return Chapter{}, fmt.Errorf("load chapter %s: %w", id, err)
	}
	return c, nil
}

func (p *SQLiteProvider) Heading(ctx context.Context, id string) (Heading, error) {
	var h Heading
	var notes string
	row := p.db.QueryRowContext(ctx,
		"SELECT heading_id, chapter_id, description, subheading_notes FROM headings WHERE heading_id = ?", id)
	if err := row.Scan(&h.ID, &h.ChapterID, &h.Description, &notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Heading{}, ErrNotFound
		}
		return Heading{}, fmt.Errorf("load heading %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(notes), &h.SubheadingNotes); err != nil {
		return Heading{}, fmt.Errorf("load heading %s: subheading notes: %w", id, err)
	}
	if err := h.Validate(); err != nil {
		return Heading{}, fmt.Errorf("load heading %s: %w", id, err)
	}
	return h, nil
}

// Upsert helpers let snapshot loaders and tests populate the store. The
// engine itself never writes reference data.

func (p *SQLiteProvider) UpsertSection(s Section) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := p.db.Exec(`INSERT OR REPLACE INTO sections (section_id, title, scope) VALUES (?, ?, ?)`,
		s.ID, s.Title, s.Scope)
	return err
}

func (p *SQLiteProvider) UpsertChapter(c Chapter) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := p.db.Exec(`INSERT OR REPLACE INTO chapters (chapter_id, section_id, title, preamble, exclusions, inclusions, definitions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SectionID, c.Title, c.Preamble,
		marshalJSON(c.Exclusions), marshalJSON(c.Inclusions), marshalJSON(c.Definitions))
	return err
}

func (p *SQLiteProvider) UpsertHeading(h Heading) error {
	if err := h.Validate(); err != nil {
		return err
	}
	_, err := p.db.Exec(`INSERT OR REPLACE INTO headings (heading_id, chapter_id, description, subheading_notes)
		VALUES (?, ?, ?, ?)`,
		h.ID, h.ChapterID, h.Description, marshalJSON(h.SubheadingNotes))
	return err
}

func marshalJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

var _ Provider = (*SQLiteProvider)(nil)
