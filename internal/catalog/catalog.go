// 包 catalog：数据目录内已获取文件的登记（SQLite），记录来源、大小与 xxhash64 校验值
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"latlon-utils/internal/logger"
	"latlon-utils/internal/migrate"
)

// FileName：目录库文件名
const FileName = "catalog.db"

// Entry：一条登记；File 为相对数据目录的文件名
type Entry struct {
	Key       string
	File      string
	SourceURL string
	Bytes     int64
	XXHash    string
	FetchedAt time.Time
}

// Mismatch：校验失败项；Missing 表示文件不存在
type Mismatch struct {
	Entry
	Actual  string
	Missing bool
}

type Catalog struct {
	db  *sql.DB
	dir string
}

// Open：打开或创建 <dir>/catalog.db
func Open(dir string) (*Catalog, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: schema: %w", err)
	}
	return &Catalog{db: db, dir: dir}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// HashFile：文件的 xxhash64（十六进制）与字节数
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%016x", h.Sum64()), n, nil
}

// Record：计算文件校验值并登记；同键覆盖
func (c *Catalog) Record(ctx context.Context, key, file, sourceURL string) (Entry, error) {
	sum, n, err := HashFile(filepath.Join(c.dir, file))
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: hash %s: %w", file, err)
	}
	e := Entry{Key: key, File: file, SourceURL: sourceURL, Bytes: n, XXHash: sum, FetchedAt: time.Now().UTC()}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO files(key, file, source_url, bytes, xxhash, fetched_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT (key) DO UPDATE SET file=excluded.file, source_url=excluded.source_url,
		 bytes=excluded.bytes, xxhash=excluded.xxhash, fetched_at=excluded.fetched_at`,
		e.Key, e.File, e.SourceURL, e.Bytes, e.XXHash, e.FetchedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: record %s: %w", key, err)
	}
	logger.L().Debug("catalog_record", "key", key, "file", file, "bytes", n, "xxhash", sum)
	return e, nil
}

// Get：按键读取
func (c *Catalog) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT key, file, source_url, bytes, xxhash, fetched_at FROM files WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("catalog: get %s: %w", key, err)
	}
	return e, true, nil
}

// List：全部登记，按键排序
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, file, source_url, bytes, xxhash, fetched_at FROM files ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify：重新计算每个登记文件的校验值，返回不一致项
func (c *Catalog) Verify(ctx context.Context) ([]Mismatch, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var bad []Mismatch
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, _, err := HashFile(filepath.Join(c.dir, e.File))
		switch {
		case errors.Is(err, os.ErrNotExist):
			bad = append(bad, Mismatch{Entry: e, Missing: true})
		case err != nil:
			return nil, fmt.Errorf("catalog: verify %s: %w", e.File, err)
		case sum != e.XXHash:
			bad = append(bad, Mismatch{Entry: e, Actual: sum})
		}
	}
	logger.L().Info("catalog_verify_done", "files", len(entries), "mismatches", len(bad))
	return bad, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var ts string
	if err := s.Scan(&e.Key, &e.File, &e.SourceURL, &e.Bytes, &e.XXHash, &ts); err != nil {
		return Entry{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Entry{}, err
	}
	e.FetchedAt = t
	return e, nil
}
