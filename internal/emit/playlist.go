package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/infra/fsx"
)

// 支持的 playlist 格式。
const (
	FormatLPL6 = "lpl6"
	FormatJSON = "json"
)

// DefaultCore 是 core_path/core_name 未配置时写入的值（由前端自行检测）。
const DefaultCore = "DETECT"

// jsonPlaylistVersion 是 JSON playlist 的格式版本号。
const jsonPlaylistVersion = "1.5"

// PlaylistEntry 是 playlist 中的一条记录。
type PlaylistEntry struct {
	Path     string `json:"path"`
	Label    string `json:"label"`
	CorePath string `json:"core_path"`
	CoreName string `json:"core_name"`
	CRC32    string `json:"crc32"`
	DBName   string `json:"db_name"`
}

// PlaylistError 表示 playlist 写入失败。
type PlaylistError struct {
	Path string
	Err  error
}

func (e *PlaylistError) Error() string {
	return fmt.Sprintf("%s：写入 playlist %q 失败：%v", domain.ErrCodePlaylistFailed, e.Path, e.Err)
}

func (e *PlaylistError) Unwrap() error { return e.Err }

// ValidFormat 判断 playlist 格式是否受支持。
func ValidFormat(f string) bool {
	return f == FormatLPL6 || f == FormatJSON
}

// NewEntry 为一个归档计划生成 playlist 记录。
//
// path = prefix + 归档名（prefix 为空时用归档的绝对路径）；crc 取匹配 rom 在 DAT 中声明的 crc32。
func NewEntry(p domain.ArchivePlan, prefix, corePath, coreName, dbName string) PlaylistEntry {
	if corePath == "" {
		corePath = DefaultCore
	}
	if coreName == "" {
		coreName = DefaultCore
	}
	crc := DefaultCore
	if v := p.Binding.Rom.Fingerprint("crc32"); v != "" {
		crc = strings.ToUpper(v) + "|crc"
	}
	return PlaylistEntry{
		Path:     joinPrefix(prefix, p.Name, p.DstAbs),
		Label:    p.Binding.Release.Name,
		CorePath: corePath,
		CoreName: coreName,
		CRC32:    crc,
		DBName:   dbName,
	}
}

func joinPrefix(prefix, name, abs string) string {
	if prefix == "" {
		return abs
	}
	if strings.HasSuffix(prefix, "/") || strings.HasSuffix(prefix, "\\") {
		return prefix + name
	}
	return prefix + "/" + name
}

// EncodePlaylist 按 format 序列化 entries。
//
// lpl6 是旧版六行格式：path、label、core_path、core_name、crc、db_name，每条记录依次六行。
func EncodePlaylist(format string, entries []PlaylistEntry) ([]byte, error) {
	switch format {
	case FormatLPL6, "":
		var b bytes.Buffer
		for _, e := range entries {
			for _, line := range []string{e.Path, e.Label, e.CorePath, e.CoreName, e.CRC32, e.DBName} {
				b.WriteString(oneLine(line))
				b.WriteByte('\n')
			}
		}
		return b.Bytes(), nil
	case FormatJSON:
		doc := struct {
			Version         string          `json:"version"`
			DefaultCorePath string          `json:"default_core_path"`
			DefaultCoreName string          `json:"default_core_name"`
			Items           []PlaylistEntry `json:"items"`
		}{Version: jsonPlaylistVersion, Items: entries}
		if doc.Items == nil {
			doc.Items = []PlaylistEntry{}
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("不支持的 playlist 格式：%q", format)
	}
}

// WritePlaylist 序列化并原子写入 path。
func WritePlaylist(path, format string, entries []PlaylistEntry) error {
	data, err := EncodePlaylist(format, entries)
	if err != nil {
		return &PlaylistError{Path: path, Err: err}
	}
	if err := fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), data); err != nil {
		return &PlaylistError{Path: path, Err: err}
	}
	return nil
}

// oneLine 去掉换行，避免破坏六行格式的记录边界。
func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
