package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/retrolist/internal/domain"
)

// ArchiveExt 是输出归档的扩展名。
const ArchiveExt = ".zip"

// ReadOutState 读取 outDir 的现状（只做 ReadDir，不读文件内容）。
// 若 outDir 不存在，返回空状态且不报错。
func ReadOutState(outDir string) (domain.OutState, error) {
	st := domain.OutState{
		OutDir:        outDir,
		ExistingNames: map[string]struct{}{},
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return domain.OutState{}, err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		st.ExistingNames[e.Name()] = struct{}{}
	}
	return st, nil
}

// PlanArchives 为每个 Binding 生成确定性的归档计划。
//
// 名称只在本次运行的 bindings 之间去重：输出目录里已存在的同名归档会被覆盖（Replaces=true），
// 这样重复运行得到相同的文件名。bindings 先按 GameKey 排序，保证 "__N" 的分配与输入顺序无关。
func PlanArchives(bindings []domain.Binding, st domain.OutState) []domain.ArchivePlan {
	sorted := append([]domain.Binding(nil), bindings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].GameKey < sorted[j].GameKey })

	used := make(map[string]struct{}, len(sorted))
	plans := make([]domain.ArchivePlan, 0, len(sorted))
	for _, b := range sorted {
		name := allocName(SanitizeName(b.Release.Name)+ArchiveExt, used)
		used[strings.ToLower(name)] = struct{}{}

		_, exists := st.ExistingNames[name]
		plans = append(plans, domain.ArchivePlan{
			Binding:  b,
			Name:     name,
			DstAbs:   filepath.Join(st.OutDir, name),
			Entry:    entryName(b),
			Replaces: exists,
		})
	}
	return plans
}

// StaleArchives 返回输出目录中存在、但本次计划不会产生的 .zip（按名称排序）。
func StaleArchives(st domain.OutState, plans []domain.ArchivePlan) []string {
	planned := make(map[string]struct{}, len(plans))
	for _, p := range plans {
		planned[p.Name] = struct{}{}
	}
	var out []string
	for n := range st.ExistingNames {
		if !strings.EqualFold(filepath.Ext(n), ArchiveExt) {
			continue
		}
		if _, ok := planned[n]; ok {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// entryName 优先使用 DAT 中的 rom 名称；缺失时用 release 名称 + 源文件扩展名。
func entryName(b domain.Binding) string {
	if strings.TrimSpace(b.Rom.Name) != "" {
		return SanitizeName(b.Rom.Name)
	}
	src := b.File.Member
	if src == "" {
		src = b.File.ArchivePath
	}
	return SanitizeName(b.Release.Name) + strings.ToLower(filepath.Ext(src))
}

// allocName 在 used 中分配不冲突的名称；比较时忽略大小写（兼容大小写不敏感的文件系统）。
func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[strings.ToLower(name)]; !ok {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[strings.ToLower(cand)]; !ok {
			return cand
		}
	}
}
