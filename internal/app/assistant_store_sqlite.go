package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteAssistantStore persists assistant snapshots in a single database
// file. Saves overwrite the assistant's whole subtree in one transaction;
// topic and message rows hang off the assistant with cascade deletes.
type SQLiteAssistantStore struct {
	Root   string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteAssistantStore(root string) (*SQLiteAssistantStore, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultStorageRoot()
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	st := &SQLiteAssistantStore{
		Root:   root,
		dbPath: filepath.Join(root, "aio.db"),
	}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteAssistantStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")
		_, _ = db.Exec("PRAGMA foreign_keys = ON;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS assistants (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				prompt TEXT NOT NULL DEFAULT ''
			);`,
			`CREATE TABLE IF NOT EXISTS topics (
				id TEXT PRIMARY KEY,
				assistant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				summary TEXT NOT NULL DEFAULT '',
				position INTEGER NOT NULL,
				FOREIGN KEY (assistant_id) REFERENCES assistants(id) ON DELETE CASCADE
			);`,
			`CREATE INDEX IF NOT EXISTS idx_topics_assistant ON topics(assistant_id, position);`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				topic_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				role TEXT NOT NULL,
				body TEXT NOT NULL,
				FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic_id, position);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}

		s.db = db
	})
	return s.err
}

func (s *SQLiteAssistantStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

func (s *SQLiteAssistantStore) LoadAssistants(ctx context.Context) ([]Assistant, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, name, prompt FROM assistants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Assistant{}
	for rows.Next() {
		var a Assistant
		if err := rows.Scan(&a.ID, &a.Name, &a.Prompt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		topics, err := s.loadTopics(ctx, db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Topics = topics
	}
	return out, nil
}

func (s *SQLiteAssistantStore) loadTopics(ctx context.Context, db *sql.DB, assistantID string) ([]Topic, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, summary FROM topics WHERE assistant_id = ? ORDER BY position`, assistantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := []Topic{}
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Summary); err != nil {
			return nil, err
		}
		t.History = []Message{}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range topics {
		msgs, err := s.loadMessages(ctx, db, topics[i].ID)
		if err != nil {
			return nil, err
		}
		topics[i].History = msgs
	}
	return topics, nil
}

func (s *SQLiteAssistantStore) loadMessages(ctx context.Context, db *sql.DB, topicID string) ([]Message, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT body FROM messages WHERE topic_id = ? ORDER BY position`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			// Skip rows written by an incompatible version.
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveAssistant replaces the assistant's stored subtree wholesale. Dropping
// and reinserting topic rows lets the cascade clean out old messages without
// any diffing.
func (s *SQLiteAssistantStore) SaveAssistant(ctx context.Context, a Assistant) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("missing assistant id")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assistants (id, name, prompt) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, prompt = excluded.prompt`,
		a.ID, a.Name, a.Prompt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE assistant_id = ?`, a.ID); err != nil {
		return err
	}

	for ti, t := range a.Topics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topics (id, assistant_id, name, summary, position) VALUES (?, ?, ?, ?, ?)`,
			t.ID, a.ID, t.Name, t.Summary, ti); err != nil {
			return err
		}
		for mi, m := range t.History {
			body, err := json.Marshal(&m)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (topic_id, position, role, body) VALUES (?, ?, ?, ?)`,
				t.ID, mi, m.Role, string(body)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *SQLiteAssistantStore) DeleteAssistant(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("missing assistant id")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM assistants WHERE id = ?`, id)
	return err
}

func (s *SQLiteAssistantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
