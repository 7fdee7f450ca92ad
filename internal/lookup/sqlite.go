package lookup

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Schema is the identity table. VNCuser is the token subject; a row
// carries either a UNIX account, an RFB port, or both (the port wins).
const Schema = `CREATE TABLE IF NOT EXISTS VNCusers (
	VNCuser  TEXT NOT NULL PRIMARY KEY,
	UNIXuser TEXT,
	rfbport  INTEGER
);`

// SQLiteConfig configures a SQLite-backed lookup.
type SQLiteConfig struct {
	// Path is the database file.
	Path string
	// PoolSize defaults to 4.
	PoolSize int
	// CreateSchema creates the VNCusers table if missing.
	CreateSchema bool
	Logger       *slog.Logger
}

// SQLite looks identities up in a VNCusers table.
type SQLite struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// OpenSQLite opens a connection pool on the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite lookup: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			if err := sqlitex.ExecuteTransient(conn, "PRAGMA busy_timeout = 5000", nil); err != nil {
				return fmt.Errorf("setting busy_timeout: %w", err)
			}
			if cfg.CreateSchema {
				if err := sqlitex.ExecuteScript(conn, Schema, nil); err != nil {
					return fmt.Errorf("creating schema: %w", err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite lookup: opening %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite lookup opened", "path", cfg.Path, "pool_size", poolSize)
	return &SQLite{pool: pool, path: cfg.Path, logger: logger}, nil
}

// Close releases the pool.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite lookup: closing %s: %w", s.path, err)
	}
	return nil
}

// Lookup implements Lookup.
func (s *SQLite) Lookup(ctx context.Context, subject string) (Mapping, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Mapping{}, fmt.Errorf("sqlite lookup: take: %w", err)
	}
	defer s.pool.Put(conn)

	var m Mapping
	err = sqlitex.Execute(conn,
		"SELECT UNIXuser, rfbport FROM VNCusers WHERE VNCuser = ?",
		&sqlitex.ExecOptions{
			Args: []any{subject},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stmt.ColumnType(0) != sqlite.TypeNull {
					m.Account = stmt.ColumnText(0)
				}
				if stmt.ColumnType(1) != sqlite.TypeNull {
					m.DirectPort = stmt.ColumnInt(1)
				}
				return nil
			},
		})
	if err != nil {
		return Mapping{}, fmt.Errorf("sqlite lookup %q: %w", subject, err)
	}
	m.Found = m.Account != "" || m.DirectPort > 0
	return m, nil
}

// Row is one VNCusers row.
type Row struct {
	Subject string `json:"subject"`
	Account string `json:"account,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// Upsert inserts or replaces the row for r.Subject.
func (s *SQLite) Upsert(ctx context.Context, r Row) error {
	if r.Subject == "" {
		return fmt.Errorf("sqlite lookup: subject is required")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite lookup: take: %w", err)
	}
	defer s.pool.Put(conn)

	var account, port any
	if r.Account != "" {
		account = r.Account
	}
	if r.Port > 0 {
		port = r.Port
	}
	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO VNCusers (VNCuser, UNIXuser, rfbport) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{r.Subject, account, port}})
	if err != nil {
		return fmt.Errorf("sqlite lookup: upsert %q: %w", r.Subject, err)
	}
	s.logger.Debug("identity mapping stored", "subject", r.Subject, "account", r.Account, "port", r.Port)
	return nil
}

// Delete removes the row for subject.
func (s *SQLite) Delete(ctx context.Context, subject string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite lookup: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM VNCusers WHERE VNCuser = ?",
		&sqlitex.ExecOptions{Args: []any{subject}}); err != nil {
		return fmt.Errorf("sqlite lookup: delete %q: %w", subject, err)
	}
	return nil
}

// List returns every row ordered by subject.
func (s *SQLite) List(ctx context.Context) ([]Row, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite lookup: take: %w", err)
	}
	defer s.pool.Put(conn)

	var rows []Row
	err = sqlitex.Execute(conn,
		"SELECT VNCuser, UNIXuser, rfbport FROM VNCusers ORDER BY VNCuser",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r := Row{Subject: stmt.ColumnText(0)}
				if stmt.ColumnType(1) != sqlite.TypeNull {
					r.Account = stmt.ColumnText(1)
				}
				if stmt.ColumnType(2) != sqlite.TypeNull {
					r.Port = stmt.ColumnInt(2)
				}
				rows = append(rows, r)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite lookup: list: %w", err)
	}
	return rows, nil
}
