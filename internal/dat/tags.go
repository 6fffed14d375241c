package dat

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/retrolist/internal/domain"
)

// Tags 是从 release 显示名中解析出的结构化信息。
//
// 默认策略（无法识别的标签文本一律忽略）：
// - 无 region
// - status=released
// - revision=0
type Tags struct {
	Regions  []string
	Status   domain.Status
	Revision int
	BIOS     bool
}

var (
	parenRE   = regexp.MustCompile(`\(([^()]*)\)`)
	bracketRE = regexp.MustCompile(`\[([^\[\]]*)\]`)

	statusRE   = regexp.MustCompile(`(?i)^(beta|proto|prototype|demo|sample|alpha|preview|unl|pirate|kiosk|debug)(\s+[0-9a-z.]+)?$`)
	revRE      = regexp.MustCompile(`(?i)^rev\s*([0-9]+|[a-z])$`)
	versionRE  = regexp.MustCompile(`(?i)^v\s*([0-9]+)(?:\.([0-9]+))?`)
	badDumpRE  = regexp.MustCompile(`(?i)^b[0-9]*$`)
	unverified = "unverified"
)

// regionCodes 把 No-Intro 命名中的国家/地区词映射为 release region 代码。
// key 统一小写；代码本身也可作为 key（DAT 的 <release region> 直接给代码）。
var regionCodes = map[string][]string{
	"usa":            {"USA"},
	"europe":         {"EUR"},
	"eur":            {"EUR"},
	"japan":          {"JPN"},
	"jpn":            {"JPN"},
	"world":          {"USA", "EUR", "JPN"},
	"germany":        {"GER"},
	"ger":            {"GER"},
	"france":         {"FRA"},
	"fra":            {"FRA"},
	"spain":          {"SPA"},
	"spa":            {"SPA"},
	"italy":          {"ITA"},
	"ita":            {"ITA"},
	"australia":      {"AUS"},
	"aus":            {"AUS"},
	"brazil":         {"BRA"},
	"bra":            {"BRA"},
	"korea":          {"KOR"},
	"kor":            {"KOR"},
	"china":          {"CHN"},
	"chn":            {"CHN"},
	"asia":           {"ASI"},
	"asi":            {"ASI"},
	"canada":         {"CAN"},
	"can":            {"CAN"},
	"netherlands":    {"HOL"},
	"hol":            {"HOL"},
	"sweden":         {"SWE"},
	"swe":            {"SWE"},
	"taiwan":         {"TAI"},
	"tai":            {"TAI"},
	"hong kong":      {"HK"},
	"hk":             {"HK"},
	"scandinavia":    {"SCA"},
	"sca":            {"SCA"},
	"united kingdom": {"UK"},
	"uk":             {"UK"},
	"russia":         {"RUS"},
	"rus":            {"RUS"},
	"portugal":       {"POR"},
	"por":            {"POR"},
	"denmark":        {"DEN"},
	"den":            {"DEN"},
	"finland":        {"FIN"},
	"fin":            {"FIN"},
	"norway":         {"NOR"},
	"nor":            {"NOR"},
	"greece":         {"GRE"},
	"gre":            {"GRE"},
	"poland":         {"POL"},
	"pol":            {"POL"},
	"mexico":         {"MEX"},
	"mex":            {"MEX"},
}

// RegionCodes 把一个地区词或代码规范化为 region 代码列表；无法识别返回 nil。
func RegionCodes(s string) []string {
	return regionCodes[strings.ToLower(strings.TrimSpace(s))]
}

// ParseTags 从显示名的 "(...)" 与 "[...]" 片段中解析 region/status/revision。
//
// 同一个括号内的逗号分隔项逐一识别，例如 "(USA, Europe)" 得到 USA、EUR。
// 多个 status 标签同时出现时取更差的一个（unknown > unlicensed-or-beta > released）。
func ParseTags(name string) Tags {
	var t Tags
	seen := map[string]struct{}{}

	for _, m := range parenRE.FindAllStringSubmatch(name, -1) {
		for _, tok := range strings.Split(m[1], ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if codes := RegionCodes(tok); codes != nil {
				for _, c := range codes {
					if _, ok := seen[c]; ok {
						continue
					}
					seen[c] = struct{}{}
					t.Regions = append(t.Regions, c)
				}
				continue
			}
			if statusRE.MatchString(tok) {
				t.Status = worse(t.Status, domain.StatusUnlicensedOrBeta)
				continue
			}
			if strings.EqualFold(tok, unverified) {
				t.Status = worse(t.Status, domain.StatusUnknown)
				continue
			}
			if rev, ok := parseRevision(tok); ok && rev > t.Revision {
				t.Revision = rev
			}
		}
	}

	for _, m := range bracketRE.FindAllStringSubmatch(name, -1) {
		tok := strings.TrimSpace(m[1])
		switch {
		case strings.EqualFold(tok, "BIOS"):
			t.BIOS = true
		case badDumpRE.MatchString(tok):
			t.Status = worse(t.Status, domain.StatusUnknown)
		}
	}

	return t
}

// maxVersionPart 限制 vX.Y 的每一段，避免折算时溢出。
const maxVersionPart = 1 << 20

// parseRevision 识别 "Rev 1"、"Rev A"、"v1.1" 三种写法。
// vX.Y 折算为 (X-1)*100+Y，使 v1.0 与“无版本”等价；结果不小于 0。
// 超出 int 范围的数字不视为 revision。
func parseRevision(tok string) (int, bool) {
	if m := revRE.FindStringSubmatch(tok); m != nil {
		c := m[1][0]
		if c >= '0' && c <= '9' {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			return n, true
		}
		return int(strings.ToUpper(m[1])[0]-'A') + 1, true
	}
	if m := versionRE.FindStringSubmatch(tok); m != nil {
		major, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		minor := 0
		if m[2] != "" {
			if minor, err = strconv.Atoi(m[2]); err != nil {
				return 0, false
			}
		}
		major = min(major, maxVersionPart)
		minor = min(minor, maxVersionPart)
		rev := (major-1)*100 + minor
		if rev < 0 {
			rev = 0
		}
		return rev, true
	}
	return 0, false
}

func worse(a, b domain.Status) domain.Status {
	if b > a {
		return b
	}
	return a
}
