package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFilenames are the file names FileStore uses for the persisted categories.
var DefaultFilenames = map[Category]string{
	CategoryGeocoding: "geocoding.json",
	CategoryDocuments: "pdf-extractions.json",
}

// FileStore keeps one pretty-printed JSON file per category inside a directory.
type FileStore struct {
	dir       string
	filenames map[Category]string
}

// NewFileStore creates the directory if it does not exist.
func NewFileStore(dir string) (FileStore, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return FileStore{}, err
	}
	return FileStore{dir: dir, filenames: DefaultFilenames}, nil
}

func (s FileStore) path(category Category) string {
	name, ok := s.filenames[category]
	if !ok {
		name = fmt.Sprintf("%s.json", category)
	}
	return filepath.Join(s.dir, name)
}

func (s FileStore) Load(ctx context.Context, category Category) (Table, error) {
	contents, err := os.ReadFile(s.path(category))
	if errors.Is(err, os.ErrNotExist) {
		return Table{}, nil
	}
	if err != nil {
		return nil, err
	}

	table := Table{}
	err = json.Unmarshal(contents, &table)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path(category), err)
	}
	return table, nil
}

func (s FileStore) Save(ctx context.Context, category Category, table Table) error {
	contents, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}

	target := s.path(category)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(contents)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	err = os.Rename(tmp.Name(), target)
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

const sqlSchema = `
create table if not exists cache_tables (
	category text primary key,
	payload text not null,
	updated_at integer not null
);
`

// SQLStore keeps one row per category in the cache_tables table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore migrates the schema on the given database.
func NewSQLStore(ctx context.Context, db *sql.DB) (SQLStore, error) {
	_, err := db.ExecContext(ctx, sqlSchema)
	if err != nil {
		return SQLStore{}, fmt.Errorf("migrate cache_tables: %w", err)
	}
	return SQLStore{db: db}, nil
}

func (s SQLStore) Load(ctx context.Context, category Category) (Table, error) {
	var payload string
	err := s.db.QueryRowContext(
		ctx,
		"select payload from cache_tables where category = ?",
		string(category),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Table{}, nil
	}
	if err != nil {
		return nil, err
	}

	table := Table{}
	err = json.Unmarshal([]byte(payload), &table)
	if err != nil {
		return nil, fmt.Errorf("decode %s row: %w", category, err)
	}
	return table, nil
}

func (s SQLStore) Save(ctx context.Context, category Category, table Table) error {
	payload, err := json.Marshal(table)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`insert into cache_tables (category, payload, updated_at) values (?, ?, unixepoch())
		on conflict (category) do update set payload = excluded.payload, updated_at = excluded.updated_at`,
		string(category),
		string(payload),
	)
	return err
}
