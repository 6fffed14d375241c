package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/retrolist/internal/domain"
)

func TestScanRoms_RecursiveSortedAndSkipsHidden(t *testing.T) {
	root := t.TempDir()

	touch(t, filepath.Join(root, "b", "Foo (Europe).nes"))
	touch(t, filepath.Join(root, "a.nes"))
	touch(t, filepath.Join(root, ".hidden.nes"))
	touch(t, filepath.Join(root, ".git", "x.nes"))

	got, diags := ScanRoms([]string{root}, nil)
	if len(diags) != 0 {
		t.Fatalf("不期望诊断：%+v", diags)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 个文件，实际 %d：%+v", len(got), got)
	}
	if got[0].AbsPath != filepath.Join(root, "a.nes") || got[1].AbsPath != filepath.Join(root, "b", "Foo (Europe).nes") {
		t.Fatalf("输出未排序或路径不正确：%+v", got)
	}
	if got[0].Size != 1 {
		t.Fatalf("size 不正确：%d", got[0].Size)
	}
}

func TestScanRoms_ExcludeOutputDir(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "out", "Foo.zip"))
	touch(t, filepath.Join(root, "in", "Foo.nes"))

	got, _ := ScanRoms([]string{root}, []string{filepath.Join(root, "out")})
	if len(got) != 1 || got[0].AbsPath != filepath.Join(root, "in", "Foo.nes") {
		t.Fatalf("输出目录应被排除：%+v", got)
	}
}

func TestScanRoms_OverlappingRootsDeduped(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "sub", "a.nes"))

	got, _ := ScanRoms([]string{root, filepath.Join(root, "sub")}, nil)
	if len(got) != 1 {
		t.Fatalf("重叠 root 不应产生重复文件：%+v", got)
	}
}

func TestScanRoms_MissingRootIsDiagnostic(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.nes"))

	got, diags := ScanRoms([]string{filepath.Join(root, "missing"), root}, nil)
	if len(got) != 1 {
		t.Fatalf("其他 root 应继续扫描：%+v", got)
	}
	if len(diags) != 1 || diags[0].Kind != domain.ErrCodeUnreadableFile {
		t.Fatalf("期望 1 条 unreadable_file 诊断：%+v", diags)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	writeFile(t, path, []byte("x"))
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
