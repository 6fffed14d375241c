package run

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/retrolist/internal/config"
	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/infra/lock"
)

type fixture struct {
	root string
	dat  string
	roms string
	out  string
}

func crcOf(b []byte) string { return fmt.Sprintf("%08x", crc32.ChecksumIEEE(b)) }

// newFixture 构造一个小型 DAT + rom 目录：
//
// - Foo：parent USA（磁盘上没有）+ clone EUR Rev 1（磁盘上有，且在 zip 里）
// - Bar：parent USA + clone JPN（两者都在磁盘上）
// - Baz：磁盘上什么都没有
func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		root: root,
		dat:  filepath.Join(root, "snes.dat"),
		roms: filepath.Join(root, "roms"),
		out:  filepath.Join(root, "set"),
	}

	fooEUR := []byte("foo-europe-rev1")
	barUSA := []byte("bar-usa")
	barJPN := []byte("bar-japan")

	writeFile(t, filepath.Join(f.roms, "bar (u).sfc"), barUSA)
	writeFile(t, filepath.Join(f.roms, "nested", "bar (j).sfc"), barJPN)
	writeFile(t, filepath.Join(f.roms, "junk.txt"), []byte("not a rom"))
	writeZip(t, filepath.Join(f.roms, "foo.zip"), "foo (e).sfc", fooEUR)

	dat := fmt.Sprintf(`<?xml version="1.0"?>
<datafile>
	<header><name>Nintendo - Super Nintendo Entertainment System Parent-Clone</name></header>
	<game name="Foo (USA)"><rom name="Foo (USA).sfc" size="7" crc="%s"/></game>
	<game name="Foo (Europe) (Rev 1)" cloneof="Foo (USA)"><rom name="Foo (Europe) (Rev 1).sfc" size="%d" crc="%s"/></game>
	<game name="Bar (USA)"><rom name="Bar (USA).sfc" size="%d" crc="%s"/></game>
	<game name="Bar (Japan)" cloneof="Bar (USA)"><rom name="Bar (Japan).sfc" size="%d" crc="%s"/></game>
	<game name="Baz (USA)"><rom name="Baz (USA).sfc" size="3" crc="0badf00d"/></game>
	<game name="Broken (USA)" cloneof="Nowhere"><rom name="b.sfc" size="x" crc="00000000"/></game>
</datafile>`,
		crcOf([]byte("foo-usa")),
		len(fooEUR), crcOf(fooEUR),
		len(barUSA), crcOf(barUSA),
		len(barJPN), crcOf(barJPN),
	)
	writeFile(t, f.dat, []byte(dat))
	return f
}

func (f fixture) config(apply bool) config.EffectiveConfig {
	return config.EffectiveConfig{
		WorkDir:        f.root,
		DAT:            f.dat,
		Roms:           []string{f.roms},
		Out:            f.out,
		Prefix:         "/storage/roms/snes",
		Priority:       []string{"USA", "EUR", "JPN"},
		Apply:          apply,
		Concurrency:    2,
		Hash:           "crc32",
		Normalize:      true,
		PlaylistFormat: "lpl6",
		CacheDB:        filepath.Join(f.root, "cache", "fp.db"),
	}
}

func itemByGame(rr domain.RunReport, game string) (domain.ItemResult, bool) {
	for _, it := range rr.Items {
		if it.Game == game {
			return it, true
		}
	}
	return domain.ItemResult{}, false
}

func TestExecute_DryRun_NoWrites(t *testing.T) {
	f := newFixture(t)

	rr := Execute(context.Background(), f.config(false))

	if _, err := os.Stat(f.out); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建输出目录，但 Stat err=%v", err)
	}
	if !rr.DryRun || rr.RunID == "" {
		t.Fatalf("report 头部不符合预期：%+v", rr)
	}
	if rr.Summary.Planned != 2 || rr.Summary.Unresolved != 2 || rr.Summary.Failed != 0 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}
	if rr.Summary.Malformed == 0 {
		t.Fatalf("期望记录 malformed 诊断：%+v", rr.Diagnostics)
	}

	foo, ok := itemByGame(rr, "Foo (USA)")
	if !ok || foo.Release != "Foo (Europe) (Rev 1)" || foo.Status != domain.StatusPlanned {
		t.Fatalf("Foo 应绑定到唯一有文件的 EUR：%+v", foo)
	}
	if foo.Src != filepath.Join(f.roms, "foo.zip")+"#foo (e).sfc" {
		t.Fatalf("Foo 的来源应是 zip 成员：%q", foo.Src)
	}
	bar, _ := itemByGame(rr, "Bar (USA)")
	if bar.Release != "Bar (USA)" || bar.Dst != filepath.Join(f.out, "Bar (USA).zip") {
		t.Fatalf("Bar 应选 USA：%+v", bar)
	}
	baz, _ := itemByGame(rr, "Baz (USA)")
	if baz.Status != domain.StatusUnresolved || baz.ErrorCode != domain.ErrCodeUnresolvedGame || baz.Release != "Baz (USA)" {
		t.Fatalf("Baz 应为 unresolved：%+v", baz)
	}
	if rr.OK() {
		t.Fatalf("存在 unresolved 时 OK() 应为 false")
	}
	if rr.Playlist != filepath.Join(f.out, "Nintendo - Super Nintendo Entertainment System.lpl") {
		t.Fatalf("playlist=%q", rr.Playlist)
	}
}

func TestExecute_Apply_WritesSetPlaylistAndReport(t *testing.T) {
	f := newFixture(t)

	rr := Execute(context.Background(), f.config(true))

	if rr.Summary.Written != 2 || rr.Summary.Failed != 0 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}

	zr, err := zip.OpenReader(filepath.Join(f.out, "Foo (Europe) (Rev 1).zip"))
	if err != nil {
		t.Fatalf("打开输出归档失败：%v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != "Foo (Europe) (Rev 1).sfc" {
		t.Fatalf("归档成员不符合预期：%+v", zr.File)
	}

	lpl, err := os.ReadFile(rr.Playlist)
	if err != nil {
		t.Fatalf("读取 playlist 失败：%v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(lpl), "\n"), "\n")
	if len(lines) != 12 {
		t.Fatalf("期望 2 条六行记录，实际 %d 行：\n%s", len(lines), lpl)
	}
	if lines[0] != "/storage/roms/snes/Bar (USA).zip" || lines[1] != "Bar (USA)" {
		t.Fatalf("playlist 首条记录不符合预期：%q", lines[:6])
	}

	b, err := os.ReadFile(filepath.Join(f.out, ReportFileName))
	if err != nil {
		t.Fatalf("apply 应写入 report.json：%v", err)
	}
	var onDisk domain.RunReport
	if err := json.Unmarshal(b, &onDisk); err != nil {
		t.Fatalf("report.json 无法解析：%v", err)
	}
	if onDisk.RunID != rr.RunID || onDisk.Summary != rr.Summary {
		t.Fatalf("report.json 与返回值不一致：%+v vs %+v", onDisk.Summary, rr.Summary)
	}

	// 第二次运行：输出目录里的归档不应被当作候选文件，结果保持一致。
	first := readAll(t, f.out, "Bar (USA).zip", "Foo (Europe) (Rev 1).zip")
	rr2 := Execute(context.Background(), f.config(true))
	if rr2.Summary.Written != 2 {
		t.Fatalf("第二次运行 summary=%+v", rr2.Summary)
	}
	second := readAll(t, f.out, "Bar (USA).zip", "Foo (Europe) (Rev 1).zip")
	for name := range first {
		if first[name] != second[name] {
			t.Fatalf("%s 两次输出不一致", name)
		}
	}
}

func TestExecute_UnreadableSourceIsFatal(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.dat, []byte("definitely not xml"))

	rr := Execute(context.Background(), f.config(true))

	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeUnreadableSource {
		t.Fatalf("期望唯一的 unreadable_source 条目：%+v", rr.Items)
	}
	if _, err := os.Stat(f.out); !os.IsNotExist(err) {
		t.Fatalf("致命错误时不应产生任何输出，Stat err=%v", err)
	}
}

func TestExecute_LockedOutputDir(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	held, err := lock.Acquire(f.out)
	if err != nil {
		t.Fatalf("获取锁失败：%v", err)
	}
	defer held.Release()

	rr := Execute(context.Background(), f.config(true))

	found := false
	for _, it := range rr.Items {
		if it.ErrorCode == domain.ErrCodeLockFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("期望 lock_failed：%+v", rr.Items)
	}
	if _, err := os.Stat(filepath.Join(f.out, "Bar (USA).zip")); !os.IsNotExist(err) {
		t.Fatalf("锁冲突时不应写出归档")
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := f.config(true)
	cfg.NoCache = true
	rr := Execute(ctx, cfg)

	found := false
	for _, it := range rr.Items {
		if it.ErrorCode == domain.ErrCodeInterrupted {
			found = true
		}
	}
	if !found {
		t.Fatalf("期望 interrupted：%+v", rr.Items)
	}
	if _, err := os.Stat(rr.Playlist); !os.IsNotExist(err) {
		t.Fatalf("中断时不应写 playlist")
	}
}

func TestExecute_StaleArchiveDiagnostic(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.out, "Old Game (USA).zip"), []byte("x"))

	rr := Execute(context.Background(), f.config(false))

	found := false
	for _, d := range rr.Diagnostics {
		if d.Kind == DiagStaleArchive && strings.HasSuffix(d.Subject, "Old Game (USA).zip") {
			found = true
		}
	}
	if !found {
		t.Fatalf("期望 stale_archive 诊断：%+v", rr.Diagnostics)
	}
}

func readAll(t *testing.T, dir string, names ...string) map[string]string {
	t.Helper()
	out := make(map[string]string, len(names))
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			t.Fatalf("读取 %s 失败：%v", n, err)
		}
		out[n] = string(b)
	}
	return out
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func writeZip(t *testing.T, path, member string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	fh, err := os.Create(path)
	if err != nil {
		t.Fatalf("创建 zip 失败：%v", err)
	}
	defer fh.Close()
	zw := zip.NewWriter(fh)
	w, err := zw.Create(member)
	if err != nil {
		t.Fatalf("创建 zip 成员失败：%v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("写入 zip 成员失败：%v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("关闭 zip 失败：%v", err)
	}
}
