// Package resolve 把 DAT 图与指纹索引按 policy 联结，为每个 Game 选出唯一的 (release, 文件)。
package resolve

import (
	"strings"

	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/policy"
)

// Index 是 Resolver 需要的最小查询面；*scan.Index 满足它。
type Index interface {
	Lookup(fp string) []domain.CandidateFile
}

// Result 是一次解析的全部输出。
//
// - Bindings：每个 Game 至多一个，按 GameKey 排序
// - Unresolved：有资格的 release 在磁盘上都找不到匹配文件
// - Filtered：所有 release 都被 policy 排除的 Game（不算 unresolved）
type Result struct {
	Bindings   []domain.Binding
	Unresolved []domain.Unresolved
	Filtered   []string
}

// Resolve 是 (graph, index, policy) 的纯函数。algorithm 决定使用 Rom 上哪一种声明指纹。
func Resolve(g domain.Graph, ix Index, algorithm string, p policy.Policy) Result {
	var res Result
	for _, game := range g.Games {
		b, outcome := Game(game, ix, algorithm, p)
		switch outcome {
		case Bound:
			res.Bindings = append(res.Bindings, b)
		case Filtered:
			res.Filtered = append(res.Filtered, game.Key)
		case NoMatch:
			res.Unresolved = append(res.Unresolved, domain.Unresolved{
				GameKey:     game.Key,
				BestRelease: b.Release.Name,
			})
		}
	}
	return res
}

// Outcome 是单个 Game 的解析结论。
type Outcome int

const (
	Bound Outcome = iota
	NoMatch
	Filtered
)

// Game 解析单个 Game。
//
// NoMatch 时返回的 Binding 只填 GameKey 与排名第一的 Release（用于诊断）。
func Game(game domain.Game, ix Index, algorithm string, p policy.Policy) (domain.Binding, Outcome) {
	eligible := make([]domain.Release, 0, len(game.Releases))
	for _, r := range game.Releases {
		if p.Allowed(r) {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return domain.Binding{GameKey: game.Key}, Filtered
	}

	ranked := p.Rank(eligible)
	for _, rel := range ranked {
		if rom, file, ok := pickFile(rel, ix, algorithm); ok {
			return domain.Binding{GameKey: game.Key, Release: rel, Rom: rom, File: file}, Bound
		}
	}
	return domain.Binding{GameKey: game.Key, Release: ranked[0]}, NoMatch
}

// pickFile 在 release 声明的所有 rom 指纹中寻找磁盘文件。
// 优先 size 与声明一致的文件，其次 Path 字典序最小；同一文件对应多个 rom 时取声明更早的 rom。
func pickFile(rel domain.Release, ix Index, algorithm string) (domain.Rom, domain.CandidateFile, bool) {
	var (
		bestRom   domain.Rom
		bestFile  domain.CandidateFile
		bestSized bool
		found     bool
	)
	for _, rom := range rel.Roms {
		fp := strings.ToLower(strings.TrimSpace(rom.Fingerprint(algorithm)))
		if fp == "" {
			continue
		}
		for _, c := range ix.Lookup(fp) {
			sized := rom.SizeKnown && c.Size == rom.Size
			if !found || better(sized, c.Path, bestSized, bestFile.Path) {
				bestRom, bestFile, bestSized, found = rom, c, sized, true
			}
		}
	}
	return bestRom, bestFile, found
}

func better(sized bool, path string, bestSized bool, bestPath string) bool {
	if sized != bestSized {
		return sized
	}
	return path < bestPath
}
