package dat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/logging"
)

// SourceError 表示 DAT 无法作为结构化文档读取（致命）。
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s：无法读取 DAT %q：%v", domain.ErrCodeUnreadableSource, e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsSourceError 判断 err 是否为 UnreadableSource。
func IsSourceError(err error) bool {
	var e *SourceError
	return errors.As(err, &e)
}

// Result 是加载结果：图 + 非致命的 malformed_metadata 诊断。
type Result struct {
	Graph       domain.Graph
	Diagnostics []domain.Diagnostic
}

// Load 读取并解析 path 指向的 DAT 文件。
func Load(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &SourceError{Path: path, Err: err}
	}
	defer f.Close()
	return Parse(f, path)
}

type entry struct {
	name      string
	cloneOf   string
	cloneOfID string
	id        string
	order     int
	elem      *etree.Element
}

// Parse 把 Logiqx 风格的 parent/clone DAT 解析为 Graph。
//
// 规则：
// - <game> 与 <machine> 等价
// - clone 通过 cloneof（按名称）或 cloneofid（按 id）指向 parent；链式 clone 归到根 parent
// - 指向不存在的 parent：该条目自成一组并作为 parent，同时记录 malformed_metadata
// - 非法 size：rom 仍然加载，只是 SizeKnown=false
func Parse(r io.Reader, source string) (Result, error) {
	log := logging.GetLogger("dat")

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return Result{}, &SourceError{Path: source, Err: err}
	}
	root := doc.Root()
	if root == nil {
		return Result{}, &SourceError{Path: source, Err: errors.New("文档没有根元素")}
	}
	if root.Tag != "datafile" {
		return Result{}, &SourceError{Path: source, Err: fmt.Errorf("根元素应为 <datafile>，实际是 <%s>", root.Tag)}
	}

	var res Result
	malformed := func(subject, format string, args ...any) {
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{
			Kind:    domain.ErrCodeMalformedMetadata,
			Subject: subject,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if h := root.FindElement("header/name"); h != nil {
		res.Graph.Name = strings.TrimSpace(h.Text())
	}
	if h := root.FindElement("header/description"); h != nil {
		res.Graph.Description = strings.TrimSpace(h.Text())
	}

	entries := make([]entry, 0, 1024)
	byName := make(map[string]int, 1024)
	byID := make(map[string]int, 1024)
	for _, e := range root.ChildElements() {
		if e.Tag != "game" && e.Tag != "machine" {
			continue
		}
		name := strings.TrimSpace(e.SelectAttrValue("name", ""))
		if name == "" {
			malformed(fmt.Sprintf("<%s #%d>", e.Tag, len(entries)), "条目缺少 name 属性，已跳过")
			continue
		}
		if _, dup := byName[name]; dup {
			malformed(name, "重复的条目名称，仅保留首次声明")
			continue
		}
		en := entry{
			name:      name,
			cloneOf:   strings.TrimSpace(e.SelectAttrValue("cloneof", "")),
			cloneOfID: strings.TrimSpace(e.SelectAttrValue("cloneofid", "")),
			id:        strings.TrimSpace(e.SelectAttrValue("id", "")),
			order:     len(entries),
			elem:      e,
		}
		byName[name] = en.order
		if en.id != "" {
			byID[en.id] = en.order
		}
		entries = append(entries, en)
	}

	// parent 指针：-1 表示自身为 parent。
	parent := make([]int, len(entries))
	for i, en := range entries {
		parent[i] = -1
		switch {
		case en.cloneOf != "":
			if p, ok := byName[en.cloneOf]; ok && p != i {
				parent[i] = p
			} else {
				malformed(en.name, "cloneof 指向不存在的条目 %q，按 parent 处理", en.cloneOf)
			}
		case en.cloneOfID != "":
			if p, ok := byID[en.cloneOfID]; ok && p != i {
				parent[i] = p
			} else {
				malformed(en.name, "cloneofid 指向不存在的条目 %q，按 parent 处理", en.cloneOfID)
			}
		}
	}

	groups := make(map[string][]domain.Release, len(entries))
	for i, en := range entries {
		rootIdx, ok := findRoot(parent, i)
		if !ok {
			malformed(en.name, "parent/clone 关系存在环，按 parent 处理")
			rootIdx = i
		}
		rel := buildRelease(en, rootIdx == i, malformed)
		key := entries[rootIdx].name
		groups[key] = append(groups[key], rel)
	}

	res.Graph.Games = make([]domain.Game, 0, len(groups))
	for key, rels := range groups {
		sort.Slice(rels, func(a, b int) bool { return rels[a].Order < rels[b].Order })
		res.Graph.Games = append(res.Graph.Games, domain.Game{Key: key, Releases: rels})
	}
	sort.Slice(res.Graph.Games, func(i, j int) bool { return res.Graph.Games[i].Key < res.Graph.Games[j].Key })

	log.Debug().
		Str("source", source).
		Str("name", res.Graph.Name).
		Int("entries", len(entries)).
		Int("games", len(res.Graph.Games)).
		Int("malformed", len(res.Diagnostics)).
		Msg("DAT 加载完成")

	return res, nil
}

// findRoot 沿 parent 指针走到根；遇到环返回 false。
func findRoot(parent []int, i int) (int, bool) {
	visited := map[int]struct{}{i: {}}
	cur := i
	for parent[cur] >= 0 {
		cur = parent[cur]
		if _, ok := visited[cur]; ok {
			return i, false
		}
		visited[cur] = struct{}{}
	}
	return cur, true
}

func buildRelease(en entry, isParent bool, malformed func(subject, format string, args ...any)) domain.Release {
	tags := ParseTags(en.name)

	regions := append([]string(nil), tags.Regions...)
	seen := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		seen[r] = struct{}{}
	}
	for _, rel := range en.elem.SelectElements("release") {
		raw := strings.TrimSpace(rel.SelectAttrValue("region", ""))
		if raw == "" {
			continue
		}
		codes := RegionCodes(raw)
		if codes == nil {
			// 未知代码原样保留（大写），让用户仍可在 priority 中显式引用。
			codes = []string{strings.ToUpper(raw)}
		}
		for _, c := range codes {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			regions = append(regions, c)
		}
	}

	roms := make([]domain.Rom, 0, 1)
	for _, re := range en.elem.SelectElements("rom") {
		rom := domain.Rom{
			Name:         strings.TrimSpace(re.SelectAttrValue("name", "")),
			Fingerprints: map[string]string{},
		}
		if raw := strings.TrimSpace(re.SelectAttrValue("size", "")); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				malformed(en.name, "rom %q 的 size 无法解析：%q", rom.Name, raw)
			} else {
				rom.Size = n
				rom.SizeKnown = true
			}
		}
		for _, alg := range []string{"crc", "md5", "sha1"} {
			v := strings.ToLower(strings.TrimSpace(re.SelectAttrValue(alg, "")))
			if v == "" {
				continue
			}
			key := alg
			if alg == "crc" {
				key = "crc32"
				for len(v) < 8 {
					v = "0" + v
				}
			}
			rom.Fingerprints[key] = v
		}
		roms = append(roms, rom)
	}

	return domain.Release{
		Name:     en.name,
		Regions:  regions,
		Status:   tags.Status,
		Revision: tags.Revision,
		IsParent: isParent,
		BIOS:     tags.BIOS,
		Order:    en.order,
		Roms:     roms,
	}
}
