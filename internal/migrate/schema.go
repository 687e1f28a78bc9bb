package migrate

import (
	"database/sql"

	"latlon-utils/internal/logger"
)

// 背景：首次打开数据目录时自动创建目录表
// 约束：使用 IF NOT EXISTS，重复执行无副作用
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			key TEXT PRIMARY KEY,
			file TEXT NOT NULL,
			source_url TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			xxhash TEXT NOT NULL,
			fetched_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_file ON files(file)`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)`,
		`INSERT INTO schema_meta(k, v) VALUES('version', '1') ON CONFLICT (k) DO NOTHING`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
