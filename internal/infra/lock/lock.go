package lock

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName 是输出目录下的锁文件名。
const FileName = ".retrolist.lock"

// ErrBusy 表示另一个 apply 运行正在写同一个输出目录。
var ErrBusy = errors.New("输出目录正被另一个 retrolist 进程占用")

// Dir 是对输出目录的独占锁。
type Dir struct {
	fl *flock.Flock
}

// Acquire 非阻塞地获取 dir 的独占锁；已被占用时返回 ErrBusy。
// 调用方需确保 dir 已存在。
func Acquire(dir string) (*Dir, error) {
	fl := flock.New(filepath.Join(dir, FileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取锁失败：%w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Dir{fl: fl}, nil
}

// Path 返回锁文件路径。
func (d *Dir) Path() string {
	if d == nil || d.fl == nil {
		return ""
	}
	return d.fl.Path()
}

// Release 释放锁（锁文件保留，避免与其他进程的 open/unlink 竞争）。
func (d *Dir) Release() error {
	if d == nil || d.fl == nil {
		return nil
	}
	return d.fl.Unlock()
}
