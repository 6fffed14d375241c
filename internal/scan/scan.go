package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/retrolist/internal/domain"
)

// File 描述一次扫描得到的磁盘文件（只做 stat，不读内容）。
type File struct {
	AbsPath     string
	Size        int64
	ModUnixNano int64
}

// ScanRoms 递归扫描 roots 下的所有普通文件。
//
// 规则：
// - 以 '.' 开头的文件/目录跳过（包括原子写入的临时文件与锁文件）
// - excludeDirs 中的目录（通常是输出目录）整体跳过，避免把上一次的产物当成输入
// - 某个 root 或条目无法读取：记一条 unreadable_file 诊断并继续
// - 输出按绝对路径排序，且同一文件只出现一次（roots 可能互相包含）
func ScanRoms(roots []string, excludeDirs []string) ([]File, []domain.Diagnostic) {
	excluded := buildExcluded(excludeDirs)

	seen := make(map[string]struct{}, 256)
	files := make([]File, 0, 256)
	var diags []domain.Diagnostic

	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			diags = append(diags, unreadable(root, err))
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				diags = append(diags, unreadable(path, walkErr))
				if d != nil && d.IsDir() && path != abs {
					return filepath.SkipDir
				}
				return nil
			}

			if path != abs && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if isExcluded(path, excluded) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			if _, ok := seen[path]; ok {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				diags = append(diags, unreadable(path, err))
				return nil
			}
			seen[path] = struct{}{}
			files = append(files, File{
				AbsPath:     path,
				Size:        info.Size(),
				ModUnixNano: info.ModTime().UnixNano(),
			})
			return nil
		})
		if err != nil {
			diags = append(diags, unreadable(abs, err))
		}
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].AbsPath < files[j].AbsPath })
	return files, diags
}

func unreadable(path string, err error) domain.Diagnostic {
	return domain.Diagnostic{
		Kind:    domain.ErrCodeUnreadableFile,
		Subject: path,
		Message: fmt.Sprintf("无法读取：%v", err),
	}
}

func buildExcluded(excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if abs, err := filepath.Abs(x); err == nil {
			x = abs
		}
		if real, err := filepath.EvalSymlinks(x); err == nil && real != x {
			excluded = append(excluded, filepath.Clean(real))
		}
		excluded = append(excluded, filepath.Clean(x))
	}
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
