package planner

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fallbackName 用于清洗后为空的名称。
const fallbackName = "untitled"

var nameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", " -",
	"*", "-",
	"?", "",
	"\"", "'",
	"<", "",
	">", "",
	"|", "-",
	"\n", " ",
	"\r", " ",
	"\t", " ",
)

// SanitizeName 把 release/rom 显示名转换为可跨平台使用的文件名。
//
// - Unicode 统一为 NFC（避免 macOS 的分解形式导致同名不同字节）
// - 路径分隔符与 Windows 保留字符替换或删除，控制字符删除
// - 连续空白折叠为一个空格；去掉首尾的空格与 "."
// - 主名是 Windows 保留设备名（CON、NUL、COM1 等）时追加 "_"
func SanitizeName(value string) string {
	value = norm.NFC.String(value)
	value = nameReplacer.Replace(value)
	value = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
	value = strings.Join(strings.Fields(value), " ")
	value = strings.Trim(value, " .")
	if value == "" {
		return fallbackName
	}
	return avoidReservedName(value)
}

// avoidReservedName 在保留设备名后追加 "_"，扩展名保持不变。
// Windows 按第一个 "." 之前的部分判断，大小写不敏感。
func avoidReservedName(value string) string {
	stem, rest := value, ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		stem, rest = value[:i], value[i:]
	}
	if !isReservedStem(strings.TrimRight(stem, " ")) {
		return value
	}
	return strings.TrimRight(stem, " ") + "_" + rest
}

func isReservedStem(stem string) bool {
	switch strings.ToUpper(stem) {
	case "CON", "PRN", "AUX", "NUL":
		return true
	}
	if len(stem) == 4 {
		prefix := strings.ToUpper(stem[:3])
		if (prefix == "COM" || prefix == "LPT") && stem[3] >= '1' && stem[3] <= '9' {
			return true
		}
	}
	return false
}
