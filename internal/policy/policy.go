// Package policy 定义同一 Game 内各 release 的排序规则（只看元数据，不看磁盘文件）。
package policy

import (
	"math"
	"sort"
	"strings"

	"github.com/John-Robertt/retrolist/internal/dat"
	"github.com/John-Robertt/retrolist/internal/domain"
)

// DefaultPriority 是未配置时的地区优先级。
var DefaultPriority = []string{"USA", "EUR", "JPN"}

// Policy 是 release 的排序/过滤配置。
//
// - Priority：地区优先级（靠前优先）；为空时地区不参与排序
// - Filter：非空时，只有触及其中任一地区的 release 才有资格
// - IncludeBIOS：false 时排除名称带 [BIOS] 的 release
type Policy struct {
	Priority    []string
	Filter      []string
	IncludeBIOS bool

	priorityIdx map[string]int
	filterSet   map[string]struct{}
}

// New 规范化地区（见 NormalizeRegions）并构建查找表。
func New(priority, filter []string, includeBIOS bool) Policy {
	p := Policy{
		Priority:    NormalizeRegions(priority),
		Filter:      NormalizeRegions(filter),
		IncludeBIOS: includeBIOS,
	}
	p.priorityIdx = make(map[string]int, len(p.Priority))
	for i, c := range p.Priority {
		p.priorityIdx[c] = i
	}
	p.filterSet = make(map[string]struct{}, len(p.Filter))
	for _, c := range p.Filter {
		p.filterSet[c] = struct{}{}
	}
	return p
}

// NormalizeRegions 把地区词或代码规范化为 release region 代码（去空白、去重、保持顺序）。
//
// "Europe"/"eur" 都得到 EUR，"World" 展开为 USA、EUR、JPN；
// 无法识别的条目按大写原样保留。
func NormalizeRegions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		codes := dat.RegionCodes(s)
		if codes == nil {
			codes = []string{strings.ToUpper(s)}
		}
		for _, c := range codes {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// RegionIndex 返回 release 触及的最小优先级下标；未触及任何优先地区时返回 math.MaxInt。
func (p Policy) RegionIndex(r domain.Release) int {
	best := math.MaxInt
	for _, c := range r.Regions {
		if i, ok := p.priorityIdx[strings.ToUpper(c)]; ok && i < best {
			best = i
		}
	}
	return best
}

// Allowed 判断 release 是否有资格参与排序（地区过滤 + BIOS 过滤）。
func (p Policy) Allowed(r domain.Release) bool {
	if r.BIOS && !p.IncludeBIOS {
		return false
	}
	if len(p.filterSet) == 0 {
		return true
	}
	for _, c := range r.Regions {
		if _, ok := p.filterSet[strings.ToUpper(c)]; ok {
			return true
		}
	}
	return false
}

// Compare 返回 <0 表示 a 优于 b，>0 表示 b 优于 a，0 仅在 a、b 是同一 release 时出现。
//
// 优先级（自高到低）：
//  1. 地区：触及优先地区者优先；都触及时比较最小下标
//  2. 状态：released > unlicensed-or-beta > unknown
//  3. parent 优先，除非 clone 的 revision 严格更高
//  4. revision 更高者优先
//  5. DAT 中声明顺序更早者优先
func (p Policy) Compare(a, b domain.Release) int {
	if ia, ib := p.RegionIndex(a), p.RegionIndex(b); ia != ib {
		if ia < ib {
			return -1
		}
		return 1
	}

	if a.Status != b.Status {
		if a.Status < b.Status {
			return -1
		}
		return 1
	}

	if a.IsParent != b.IsParent {
		parent, clone, sign := a, b, -1
		if b.IsParent {
			parent, clone, sign = b, a, 1
		}
		if clone.Revision > parent.Revision {
			return -sign
		}
		return sign
	}

	if a.Revision != b.Revision {
		if a.Revision > b.Revision {
			return -1
		}
		return 1
	}

	switch {
	case a.Order < b.Order:
		return -1
	case a.Order > b.Order:
		return 1
	}
	return 0
}

// Rank 返回按 Compare 排序后的副本（不修改输入）。
func (p Policy) Rank(releases []domain.Release) []domain.Release {
	out := append([]domain.Release(nil), releases...)
	sort.SliceStable(out, func(i, j int) bool { return p.Compare(out[i], out[j]) < 0 })
	return out
}
