package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store 是指纹缓存：同一文件（路径 + 成员 + 大小 + mtime）在内容未变时不必重复读取。
//
// 约束：
// - ReadOnly=true 时只允许读（Put 返回 ErrReadOnly）
// - 缓存只是加速手段：读写失败由调用方降级为“直接计算”，不影响结果正确性
type Store struct {
	db       *sql.DB
	path     string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

// Key 唯一标识一次指纹计算的输入。
type Key struct {
	Path        string
	Member      string
	Size        int64
	ModUnixNano int64
	Algorithm   string
	Normalize   bool
}

// Entry 是缓存的计算结果。Size 为参与计算（规范化后）的字节数。
type Entry struct {
	Fingerprint string
	Size        int64
}

const schema = `CREATE TABLE IF NOT EXISTS fingerprints (
	path        TEXT    NOT NULL,
	member      TEXT    NOT NULL,
	size        INTEGER NOT NULL,
	mod_ns      INTEGER NOT NULL,
	algorithm   TEXT    NOT NULL,
	normalize   INTEGER NOT NULL,
	fingerprint TEXT    NOT NULL,
	hashed_size INTEGER NOT NULL,
	updated_at  TEXT    NOT NULL,
	PRIMARY KEY (path, member, algorithm, normalize)
)`

// Open 打开（必要时创建）path 处的 SQLite 缓存库。
func Open(path string, readOnly bool) (*Store, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, fmt.Errorf("cache 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败：%w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开缓存库失败：%w", err)
	}
	// 单连接：扫描阶段的 worker 并发写入时避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("初始化缓存库失败（%s）：%w", firstLine(stmt), err)
		}
	}

	return &Store{db: db, path: path, ReadOnly: readOnly}, nil
}

// Path 返回缓存库文件路径。
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup 命中条件：路径/成员/算法/规范化一致，且大小与 mtime 未变化。
func (s *Store) Lookup(ctx context.Context, k Key) (Entry, bool, error) {
	if s == nil || s.db == nil {
		return Entry{}, false, nil
	}
	var (
		e     Entry
		size  int64
		modNS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, hashed_size, size, mod_ns FROM fingerprints
		 WHERE path = ? AND member = ? AND algorithm = ? AND normalize = ?`,
		k.Path, k.Member, k.Algorithm, boolInt(k.Normalize),
	).Scan(&e.Fingerprint, &e.Size, &size, &modNS)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if size != k.Size || modNS != k.ModUnixNano {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put 写入/覆盖一条缓存。
func (s *Store) Put(ctx context.Context, k Key, e Entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.ReadOnly {
		return ErrReadOnly
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (path, member, size, mod_ns, algorithm, normalize, fingerprint, hashed_size, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path, member, algorithm, normalize) DO UPDATE SET
		   size = excluded.size,
		   mod_ns = excluded.mod_ns,
		   fingerprint = excluded.fingerprint,
		   hashed_size = excluded.hashed_size,
		   updated_at = excluded.updated_at`,
		k.Path, k.Member, k.Size, k.ModUnixNano, k.Algorithm, boolInt(k.Normalize),
		e.Fingerprint, e.Size, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Count 返回缓存条目数（用于诊断输出）。
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
