package db

import (
	"database/sql"
)

// schema is applied in order on every open; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS feeds (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    home_page   TEXT NOT NULL DEFAULT '',
    external_id TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS folders (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    external_id TEXT
)`,
	`CREATE TABLE IF NOT EXISTS feed_folders (
    feed_id   TEXT NOT NULL,
    folder_id TEXT NOT NULL,
    PRIMARY KEY (feed_id, folder_id)
)`,
	`CREATE TABLE IF NOT EXISTS articles (
    article_id     TEXT PRIMARY KEY,
    feed_id        TEXT NOT NULL,
    unique_id      TEXT NOT NULL DEFAULT '',
    title          TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    external_url   TEXT NOT NULL DEFAULT '',
    content_html   TEXT NOT NULL DEFAULT '',
    content_text   TEXT NOT NULL DEFAULT '',
    summary        TEXT NOT NULL DEFAULT '',
    authors        TEXT NOT NULL DEFAULT '[]',
    date_published INTEGER,
    date_modified  INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS statuses (
    article_id   TEXT PRIMARY KEY,
    read         INTEGER NOT NULL DEFAULT 0,
    starred      INTEGER NOT NULL DEFAULT 0,
    date_arrived INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS outbox (
    article_id TEXT NOT NULL REFERENCES statuses(article_id),
    key        TEXT NOT NULL,
    flag       INTEGER NOT NULL,
    selected   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (article_id, key)
)`,
	`CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_feed_id ON articles(feed_id)`,
	`CREATE INDEX IF NOT EXISTS idx_statuses_read ON statuses(read)`,
	`CREATE INDEX IF NOT EXISTS idx_statuses_starred ON statuses(starred)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_selected ON outbox(selected)`,
}

// MigrateUp creates the per-account schema if it does not exist yet.
func MigrateUp(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// MigrateDown drops every table of the per-account schema.
// Use with caution: this will delete all data in the file.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP TABLE IF EXISTS outbox`,
		`DROP TABLE IF EXISTS statuses`,
		`DROP TABLE IF EXISTS articles`,
		`DROP TABLE IF EXISTS feed_folders`,
		`DROP TABLE IF EXISTS folders`,
		`DROP TABLE IF EXISTS feeds`,
		`DROP TABLE IF EXISTS metadata`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
