package domain

import "strings"

// Status 是 release 的发行状态，数值越小优先级越高。
type Status int

const (
	StatusReleased Status = iota
	StatusUnlicensedOrBeta
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusReleased:
		return "released"
	case StatusUnlicensedOrBeta:
		return "unlicensed-or-beta"
	default:
		return "unknown"
	}
}

// Rom 是 DAT 中为某个 release 声明的一个有效 dump。
// Fingerprints 的 key 是算法名（crc32/md5/sha1），value 为小写十六进制。
type Rom struct {
	Name         string
	Size         int64
	SizeKnown    bool
	Fingerprints map[string]string
}

// Fingerprint 返回该 rom 在指定算法下声明的指纹（未声明则为空串）。
func (r Rom) Fingerprint(alg string) string {
	if r.Fingerprints == nil {
		return ""
	}
	return r.Fingerprints[alg]
}

// Release 是某个 Game 的一个具体版本（parent 或 clone）。
//
// 不变量：
// - 每个 Game 有且仅有一个 IsParent=true 的 Release
// - Order 是在 DAT 中首次声明的位置，用于最后一级的稳定排序
// - 加载完成后只读
type Release struct {
	Name     string
	Regions  []string
	Status   Status
	Revision int
	IsParent bool
	BIOS     bool
	Order    int

	Roms []Rom
}

// Game 是 parent/clone 分组后的单元。Key 为 parent 的名称。
type Game struct {
	Key      string
	Releases []Release
}

// Parent 返回该组的 parent release。
func (g Game) Parent() (Release, bool) {
	for _, r := range g.Releases {
		if r.IsParent {
			return r, true
		}
	}
	return Release{}, false
}

// Graph 是 DAT 的内存表示。Games 按 Key 字典序排列。
type Graph struct {
	Name        string
	Description string
	Games       []Game
}

// SystemName 去掉 No-Intro 头部名称中的 " Parent-Clone" 后缀，用作默认 playlist 名。
func (g Graph) SystemName() string {
	name := strings.TrimSpace(g.Name)
	if i := strings.Index(name, " Parent-Clone"); i >= 0 {
		name = name[:i]
	}
	return name
}
