package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const (
	ActionBlock = "BLOCK"
	ActionAllow = "ALLOW"

	// SourceUser marks rules from the config file's blacklist/whitelist.
	// Feed syncs never overwrite them.
	SourceUser = "user_manual"
)

// Rule is one blacklist entry. Target is a canonical host ("evil.com") or a
// normalized URL ("https://evil.com/login").
type Rule struct {
	Target    string `json:"target"`
	Action    string `json:"action"`
	Source    string `json:"source"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

type BlacklistDB struct {
	db *sql.DB
}

func (d *BlacklistDB) InitDB(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create directory for db: %w", err)
	}

	// Feeds sync concurrently; writers wait for each other instead of failing.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return fmt.Errorf("could not open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("could not connect to db (check permissions): %w", err)
	}

	d.db = db

	if _, err := d.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}

	q := `
	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT UNIQUE NOT NULL,
		source TEXT NOT NULL,
		action TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_rules_source ON rules(source);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`
	if _, err = d.db.Exec(q); err != nil {
		return fmt.Errorf("could not init tables: %w", err)
	}

	return nil
}

func (d *BlacklistDB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *BlacklistDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *BlacklistDB) GetETag(source string) string {
	var val string
	_ = d.db.QueryRow("SELECT value FROM metadata WHERE key = ?", source+"_etag").Scan(&val)
	return val
}

func (d *BlacklistDB) UpdateETag(source, etag string) error {
	_, err := d.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", source+"_etag", etag)
	return err
}

// SyncUserRules makes the user_manual rules match the given lists exactly.
// A whitelisted target overrides a feed's BLOCK for the same target.
func (d *BlacklistDB) SyncUserRules(whitelist []string, blacklist []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	syncTime := time.Now().UnixNano()
	upsert := func(raw, action string) error {
		target, ok := NormalizeTarget(raw)
		if !ok {
			log.Warn().Str("target", raw).Msg("ignoring invalid user rule")
			return nil
		}
		query := `
		INSERT INTO rules (target, source, action, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(target) DO UPDATE SET
			source = excluded.source,
			action = excluded.action,
			updated_at = excluded.updated_at;
		`
		_, err := tx.Exec(query, target, SourceUser, action, syncTime)
		return err
	}

	for _, target := range blacklist {
		if err := upsert(target, ActionBlock); err != nil {
			return err
		}
	}

	// Whitelist last so it wins when a target is on both lists.
	for _, target := range whitelist {
		if err := upsert(target, ActionAllow); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM rules WHERE source = ? AND updated_at != ?`, SourceUser, syncTime); err != nil {
		return err
	}

	return tx.Commit()
}

// StreamSync imports one feed (mark) and then deletes that feed's rules that
// were not seen in this import (sweep).
func (d *BlacklistDB) StreamSync(dataStream <-chan Rule, source string) (int, error) {
	// The producer blocks until the stream is consumed, errors included.
	defer func() {
		for range dataStream {
		}
	}()

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}

	defer tx.Rollback()
	importTime := time.Now().UnixNano()

	query := `
	INSERT INTO rules (target, source, action, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(target) DO UPDATE SET
		updated_at = excluded.updated_at,
		source = excluded.source,
		action = excluded.action
	WHERE rules.source != ?;
	`
	stmt, err := tx.Prepare(query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0

	for item := range dataStream {
		action := item.Action
		if action == "" {
			action = ActionBlock
		}
		if _, err := stmt.Exec(item.Target, source, action, importTime, SourceUser); err != nil {
			log.Warn().Err(err).Str("target", item.Target).Msg("failed to insert rule")
			continue
		}
		count++
	}

	pruneQuery := `DELETE FROM rules WHERE source = ? AND updated_at != ?`
	if _, err := tx.Exec(pruneQuery, source, importTime); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	log.Info().Str("source", source).Int("count", count).Msg("feed imported")
	return count, nil
}

// GetBlocklist returns every BLOCK target.
func (d *BlacklistDB) GetBlocklist(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT target FROM rules WHERE action = ?", ActionBlock)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// List returns every rule, ordered by target.
func (d *BlacklistDB) List(ctx context.Context) ([]Rule, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT target, action, source, updated_at FROM rules ORDER BY target")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []Rule{}
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.Target, &r.Action, &r.Source, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (d *BlacklistDB) GetRule(target string) (*Rule, error) {
	var r Rule
	query := "SELECT target, action, source, updated_at FROM rules WHERE target = ?"
	err := d.db.QueryRow(query, target).Scan(&r.Target, &r.Action, &r.Source, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListBlacklist returns the rules in the same shape as the document store's
// blacklist collection.
func (d *BlacklistDB) ListBlacklist(ctx context.Context) ([]Document, error) {
	rules, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rules))
	for _, r := range rules {
		docs = append(docs, Document{
			"id":         r.Target,
			"url":        r.Target,
			"action":     r.Action,
			"source":     r.Source,
			"updated_at": r.UpdatedAt,
		})
	}
	return docs, nil
}
