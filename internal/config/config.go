package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/John-Robertt/retrolist/internal/emit"
	"github.com/John-Robertt/retrolist/internal/fingerprint"
	"github.com/John-Robertt/retrolist/internal/policy"
)

const (
	// ErrCodeNotFound 表示 --config 指向的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingDAT 表示 CLI 与配置文件都没有给出 DAT 路径。
	ErrCodeMissingDAT = "config_missing_dat"
	// ErrCodeMissingRoms 表示 CLI 与配置文件都没有给出 rom 目录。
	ErrCodeMissingRoms = "config_missing_roms"
)

const (
	// FileName 是工作目录下自动发现的配置文件名。
	FileName = "retrolist.toml"
	// DefaultConcurrency 是并发的内置默认值（当配置未指定时）。
	DefaultConcurrency = 4
	// MaxConcurrency 是并发上限；超出截断。
	MaxConcurrency = 32
)

// CLIArgs 是命令行入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --apply=false 必须能覆盖 apply = true。
type CLIArgs struct {
	// ConfigPath 非空时必须存在；为空时尝试 <cwd>/retrolist.toml（可选）。
	ConfigPath string

	DAT      string
	Roms     []string
	Out      string
	Playlist string
	Prefix   string

	Priority    []string
	PrioritySet bool
	Filter      []string
	FilterSet   bool

	IncludeBIOS    bool
	IncludeBIOSSet bool

	Apply    bool
	ApplySet bool

	Concurrency    int
	ConcurrencySet bool

	Hash    string
	HashSet bool

	NoCache    bool
	NoCacheSet bool
}

// FileConfig 对应 retrolist.toml 的解析结构。未知字段报错。
type FileConfig struct {
	DAT            string   `toml:"dat"`
	Roms           []string `toml:"roms"`
	Out            string   `toml:"out"`
	Playlist       string   `toml:"playlist"`
	Prefix         string   `toml:"prefix"`
	Priority       []string `toml:"priority"`
	Filter         []string `toml:"filter"`
	IncludeBIOS    *bool    `toml:"include_bios"`
	Apply          *bool    `toml:"apply"`
	Concurrency    int      `toml:"concurrency"`
	Hash           string   `toml:"hash"`
	Normalize      *bool    `toml:"normalize"`
	PlaylistFormat string   `toml:"playlist_format"`
	CorePath       string   `toml:"core_path"`
	CoreName       string   `toml:"core_name"`
	CacheDB        string   `toml:"cache_db"`
	NoCache        *bool    `toml:"no_cache"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
//
// Out/Playlist 为空表示“由 DAT 头部的系统名推导”，在加载 DAT 之后才能确定。
type EffectiveConfig struct {
	// ConfigFile 是实际读取的配置文件；没有读取任何文件时为空。
	ConfigFile string
	// WorkDir 是 cwd 的绝对路径（Out 未指定时的基准目录）。
	WorkDir string

	DAT      string
	Roms     []string
	Out      string
	Playlist string
	Prefix   string

	Priority    []string
	Filter      []string
	IncludeBIOS bool

	Apply       bool
	Concurrency int

	Hash      string
	Normalize bool

	PlaylistFormat string
	CorePath       string
	CoreName       string

	CacheDB string
	NoCache bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingDAT:
		return fmt.Sprintf("%s：未指定 DAT（--dat 或配置项 dat）", e.Code)
	case ErrCodeMissingRoms:
		return fmt.Sprintf("%s：未指定 rom 目录（命令行参数或配置项 roms）", e.Code)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// DefaultCacheDB 是指纹缓存的默认位置：$XDG_CACHE_HOME/retrolist/fingerprints.db。
func DefaultCacheDB() string {
	return filepath.Join(xdg.CacheHome, "retrolist", "fingerprints.db")
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/retrolist.toml（可选）
//
// 覆盖优先级（固定）：CLI > config > 内置默认。
// 配置文件中的相对路径以配置文件所在目录为基准；CLI 中的相对路径以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	if !exists {
		cfgPath = ""
	}
	return merge(cwdAbs, cli, fc, cfgPath)
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	fileBase := cwdAbs
	if cfgPath != "" {
		fileBase = filepath.Dir(cfgPath)
	}
	invalid := func(format string, args ...any) error {
		p := cfgPath
		if p == "" {
			p = "<cli>"
		}
		return &Error{Code: ErrCodeInvalid, Path: p, Err: fmt.Errorf(format, args...)}
	}

	eff := EffectiveConfig{ConfigFile: cfgPath, WorkDir: cwdAbs}

	// 路径类：CLI > config
	eff.DAT = pickPath(cwdAbs, cli.DAT, fileBase, fc.DAT)
	if eff.DAT == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingDAT, Path: cfgPath}
	}
	switch {
	case len(cli.Roms) > 0:
		eff.Roms = absAll(cwdAbs, cli.Roms)
	default:
		eff.Roms = absAll(fileBase, fc.Roms)
	}
	if len(eff.Roms) == 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingRoms, Path: cfgPath}
	}
	eff.Out = pickPath(cwdAbs, cli.Out, fileBase, fc.Out)
	eff.Playlist = pickPath(cwdAbs, cli.Playlist, fileBase, fc.Playlist)

	// prefix 原样透传（它是前端设备上的路径，不在本机解析）。
	eff.Prefix = strings.TrimSpace(fc.Prefix)
	if strings.TrimSpace(cli.Prefix) != "" {
		eff.Prefix = strings.TrimSpace(cli.Prefix)
	}

	// priority / filter：CLI 中二者互斥；任一来源显式给出都会覆盖较低优先级来源。
	if cli.PrioritySet && cli.FilterSet {
		return EffectiveConfig{}, invalid("--priority 与 --filter 不能同时使用")
	}
	priority, prioritySet := fc.Priority, fc.Priority != nil
	filter := fc.Filter
	if cli.PrioritySet {
		priority, prioritySet = cli.Priority, true
	}
	if cli.FilterSet {
		filter = cli.Filter
	}
	if !prioritySet {
		priority = policy.DefaultPriority
	}
	eff.Priority = splitList(priority)
	eff.Filter = splitList(filter)

	if cli.IncludeBIOSSet {
		eff.IncludeBIOS = cli.IncludeBIOS
	} else if fc.IncludeBIOS != nil {
		eff.IncludeBIOS = *fc.IncludeBIOS
	}

	// apply：CLI > config > 默认 false
	if cli.ApplySet {
		eff.Apply = cli.Apply
	} else if fc.Apply != nil {
		eff.Apply = *fc.Apply
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	eff.Concurrency = concurrency

	hash := strings.TrimSpace(fc.Hash)
	if cli.HashSet {
		hash = strings.TrimSpace(cli.Hash)
	}
	fn, err := fingerprint.Lookup(hash)
	if err != nil {
		return EffectiveConfig{}, invalid("hash：%v", err)
	}
	eff.Hash = fn.Name

	eff.Normalize = true
	if fc.Normalize != nil {
		eff.Normalize = *fc.Normalize
	}

	eff.PlaylistFormat = strings.ToLower(strings.TrimSpace(fc.PlaylistFormat))
	if eff.PlaylistFormat == "" {
		eff.PlaylistFormat = emit.FormatLPL6
	}
	if !emit.ValidFormat(eff.PlaylistFormat) {
		return EffectiveConfig{}, invalid("playlist_format 只能是 %s 或 %s，实际是 %q", emit.FormatLPL6, emit.FormatJSON, fc.PlaylistFormat)
	}
	eff.CorePath = strings.TrimSpace(fc.CorePath)
	eff.CoreName = strings.TrimSpace(fc.CoreName)

	eff.CacheDB = DefaultCacheDB()
	if strings.TrimSpace(fc.CacheDB) != "" {
		eff.CacheDB = absCleanFrom(fileBase, fc.CacheDB)
	}
	if cli.NoCacheSet {
		eff.NoCache = cli.NoCache
	} else if fc.NoCache != nil {
		eff.NoCache = *fc.NoCache
	}

	return eff, nil
}

func pickPath(cliBase, cliValue, fileBase, fileValue string) string {
	if strings.TrimSpace(cliValue) != "" {
		return absCleanFrom(cliBase, cliValue)
	}
	if strings.TrimSpace(fileValue) != "" {
		return absCleanFrom(fileBase, fileValue)
	}
	return ""
}

func absAll(base string, in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = absCleanFrom(base, p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitList 允许 "USA,EUR" 与 ["USA", "EUR"] 两种写法；地区名统一为代码（Europe -> EUR），去重。
func splitList(in []string) []string {
	var parts []string
	for _, item := range in {
		parts = append(parts, strings.Split(item, ",")...)
	}
	out := policy.NormalizeRegions(parts)
	if len(out) == 0 {
		return nil
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute；支持 "~/" 前缀。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
