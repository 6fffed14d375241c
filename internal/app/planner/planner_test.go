package planner

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/John-Robertt/retrolist/internal/domain"
)

func binding(key, release, rom string) domain.Binding {
	return domain.Binding{
		GameKey: key,
		Release: domain.Release{Name: release},
		Rom:     domain.Rom{Name: rom},
		File:    domain.CandidateFile{Path: "/roms/" + rom, ArchivePath: "/roms/" + rom},
	}
}

func TestReadOutState_MissingDir(t *testing.T) {
	st, err := ReadOutState(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(st.ExistingNames) != 0 {
		t.Fatalf("期望空状态：%+v", st)
	}
}

func TestReadOutState_ListsFilesOnly(t *testing.T) {
	out := t.TempDir()
	write(t, filepath.Join(out, "Foo (USA).zip"))
	write(t, filepath.Join(out, "sub", "x.zip"))

	st, err := ReadOutState(out)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if _, ok := st.ExistingNames["Foo (USA).zip"]; !ok {
		t.Fatalf("期望包含 Foo (USA).zip：%+v", st.ExistingNames)
	}
	if _, ok := st.ExistingNames["sub"]; ok {
		t.Fatalf("目录不应计入：%+v", st.ExistingNames)
	}
}

func TestPlanArchives_NamesAndEntries(t *testing.T) {
	out := t.TempDir()
	write(t, filepath.Join(out, "Foo (USA).zip"))
	st, err := ReadOutState(out)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b2 := binding("Bar", "Bar: Return (Europe)", "")
	b2.File = domain.CandidateFile{Path: "/roms/a.zip#bar.SFC", ArchivePath: "/roms/a.zip", Member: "bar.SFC"}
	plans := PlanArchives([]domain.Binding{
		binding("Foo", "Foo (USA)", "Foo (USA).sfc"),
		b2,
	}, st)

	if len(plans) != 2 {
		t.Fatalf("期望 2 条计划，实际 %d", len(plans))
	}
	if plans[0].Binding.GameKey != "Bar" || plans[1].Binding.GameKey != "Foo" {
		t.Fatalf("计划应按 GameKey 排序：%+v", plans)
	}
	if plans[0].Name != "Bar - Return (Europe).zip" {
		t.Fatalf("name=%q", plans[0].Name)
	}
	if plans[0].Entry != "Bar - Return (Europe).sfc" {
		t.Fatalf("entry=%q", plans[0].Entry)
	}
	if plans[0].Replaces {
		t.Fatalf("Bar 不应标记为覆盖")
	}
	if plans[1].Entry != "Foo (USA).sfc" || !plans[1].Replaces {
		t.Fatalf("Foo 计划不符合预期：%+v", plans[1])
	}
	if plans[1].DstAbs != filepath.Join(out, "Foo (USA).zip") {
		t.Fatalf("dst=%q", plans[1].DstAbs)
	}
}

func TestPlanArchives_ReservedDeviceNames(t *testing.T) {
	st := domain.OutState{OutDir: "/out", ExistingNames: map[string]struct{}{}}
	plans := PlanArchives([]domain.Binding{binding("Con", "CON", "nul.sfc")}, st)

	if plans[0].Name != "CON_.zip" {
		t.Fatalf("name=%q", plans[0].Name)
	}
	if plans[0].Entry != "nul_.sfc" {
		t.Fatalf("entry=%q", plans[0].Entry)
	}
}

func TestPlanArchives_NameConflictDeterministic(t *testing.T) {
	st := domain.OutState{OutDir: "/out", ExistingNames: map[string]struct{}{}}

	in := []domain.Binding{
		binding("C", "Same?", "c.bin"),
		binding("A", "Same", "a.bin"),
		binding("B", "same", "b.bin"),
	}
	plans := PlanArchives(in, st)

	got := []string{plans[0].Name, plans[1].Name, plans[2].Name}
	want := []string{"Same.zip", "same__2.zip", "Same__3.zip"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}

	// 输入顺序变化不影响分配结果。
	rev := PlanArchives([]domain.Binding{in[2], in[1], in[0]}, st)
	for i := range plans {
		if plans[i].Name != rev[i].Name {
			t.Fatalf("分配结果依赖输入顺序：%v vs %v", plans[i].Name, rev[i].Name)
		}
	}
}

func TestStaleArchives(t *testing.T) {
	st := domain.OutState{OutDir: "/out", ExistingNames: map[string]struct{}{
		"Foo (USA).zip":   {},
		"Old (Japan).zip": {},
		"report.json":     {},
		".retrolist.lock": {},
	}}
	plans := PlanArchives([]domain.Binding{binding("Foo", "Foo (USA)", "f.sfc")}, st)

	got := StaleArchives(st, plans)
	if !reflect.DeepEqual(got, []string{"Old (Japan).zip"}) {
		t.Fatalf("stale=%v", got)
	}
}

func write(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
