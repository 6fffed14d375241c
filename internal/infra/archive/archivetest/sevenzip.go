// Package archivetest 为测试构造最小的 7z 归档（Copy 编码、单个 folder、无压缩头）。
package archivetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"
)

// Entry 是一个 7z 成员；Data 不能为空（空文件需要 EmptyStream 属性，这里不支持）。
type Entry struct {
	Name string
	Data []byte
}

// SevenZip 返回包含 entries（按给定顺序）的 7z 归档字节。
func SevenZip(entries ...Entry) []byte {
	var data []byte
	for _, e := range entries {
		data = append(data, e.Data...)
	}

	var h bytes.Buffer
	h.WriteByte(0x01) // Header
	h.WriteByte(0x04) // MainStreamsInfo

	h.WriteByte(0x06) // PackInfo
	h.Write(number(0))
	h.Write(number(1))
	h.WriteByte(0x09) // Size
	h.Write(number(uint64(len(data))))
	h.WriteByte(0x00)

	h.WriteByte(0x07) // UnPackInfo
	h.WriteByte(0x0b) // Folder
	h.Write(number(1))
	h.WriteByte(0x00)  // External
	h.Write(number(1)) // NumCoders
	h.WriteByte(0x01)  // 1 字节 codec id，简单 coder，无属性
	h.WriteByte(0x00)  // Copy
	h.WriteByte(0x0c)  // CodersUnPackSize
	h.Write(number(uint64(len(data))))
	h.WriteByte(0x00)

	h.WriteByte(0x08) // SubStreamsInfo
	h.WriteByte(0x0d) // NumUnPackStream
	h.Write(number(uint64(len(entries))))
	if len(entries) > 1 {
		h.WriteByte(0x09) // Size（最后一个由 folder 大小推出）
		for _, e := range entries[:len(entries)-1] {
			h.Write(number(uint64(len(e.Data))))
		}
	}
	h.WriteByte(0x0a) // CRC
	h.WriteByte(0x01) // AllAreDefined
	for _, e := range entries {
		_ = binary.Write(&h, binary.LittleEndian, crc32.ChecksumIEEE(e.Data))
	}
	h.WriteByte(0x00)
	h.WriteByte(0x00) // end of MainStreamsInfo

	var names bytes.Buffer
	for _, e := range entries {
		for _, u := range utf16.Encode([]rune(e.Name)) {
			_ = binary.Write(&names, binary.LittleEndian, u)
		}
		names.Write([]byte{0, 0})
	}
	h.WriteByte(0x05) // FilesInfo
	h.Write(number(uint64(len(entries))))
	h.WriteByte(0x11) // Name
	h.Write(number(uint64(names.Len() + 1)))
	h.WriteByte(0x00) // External
	h.Write(names.Bytes())
	h.WriteByte(0x00)
	h.WriteByte(0x00) // end of Header

	var start bytes.Buffer
	_ = binary.Write(&start, binary.LittleEndian, uint64(len(data)))
	_ = binary.Write(&start, binary.LittleEndian, uint64(h.Len()))
	_ = binary.Write(&start, binary.LittleEndian, crc32.ChecksumIEEE(h.Bytes()))

	var out bytes.Buffer
	out.Write([]byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c, 0x00, 0x04})
	_ = binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(start.Bytes()))
	out.Write(start.Bytes())
	out.Write(data)
	out.Write(h.Bytes())
	return out.Bytes()
}

// WriteSevenZip 把 entries 写成 path 处的 7z 文件（自动创建父目录）。
func WriteSevenZip(t *testing.T, path string, entries ...Entry) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, SevenZip(entries...), 0o644); err != nil {
		t.Fatalf("写入 7z 失败：%v", err)
	}
}

// number 是 7z 的变长整数编码：首字节前导 1 的个数 = 追加的小端字节数。
func number(v uint64) []byte {
	for n := 0; n < 8; n++ {
		if v < 1<<(7*(n+1)) {
			out := make([]byte, 1+n)
			out[0] = byte(0xff<<(8-n)) | byte(v>>(8*n))
			for i := 0; i < n; i++ {
				out[1+i] = byte(v >> (8 * i))
			}
			return out
		}
	}
	out := make([]byte, 9)
	out[0] = 0xff
	binary.LittleEndian.PutUint64(out[1:], v)
	return out
}
