package fsx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// EnsureDir 确保 dir 存在且是目录。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// WriteFileAtomicReplace 在 dir 下原子写入 name 并覆盖同名文件。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return WriteStreamAtomicReplace(dir, name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteStreamAtomicReplace 与 WriteFileAtomicReplace 相同，但内容由 fill 流式写入
// （归档可能很大，不要求先在内存里拼好）。
//
// - 临时文件与目标同目录，保证 rename 的原子性
// - fill 返回错误或任一步失败：临时文件被删除，目标保持原状
// - 目标已存在且是目录：返回 PathTypeConflictError
func WriteStreamAtomicReplace(dir, name string, fill func(w io.Writer) error) error {
	if err := EnsureDir(dir); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)
	if fi, err := os.Lstat(dst); err == nil && fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}

	// 前缀带 '.'，避免前端在写入过程中看到半成品。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	bw := bufio.NewWriterSize(tmp, 256*1024)
	if err := fill(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := renameFunc(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort。
	_ = syncDirBestEffort(dir)
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
