// Package fingerprint 计算 rom 内容指纹。
//
// 算法可替换（crc32/md5/sha1），与 DAT 中 <rom> 的同名属性对应。
// 计算前可做内容规范化：iNES 跳过 16 字节头；N64 的 v64/n64 转成 z64 字节序。
package fingerprint

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"sort"
	"strings"
)

const DefaultAlgorithm = "crc32"

// Func 是可插拔的指纹函数。
type Func struct {
	Name string
	New  func() hash.Hash
}

var funcs = map[string]Func{
	"crc32": {Name: "crc32", New: func() hash.Hash { return crc32.NewIEEE() }},
	"md5":   {Name: "md5", New: md5.New},
	"sha1":  {Name: "sha1", New: sha1.New},
}

// Lookup 按名称返回指纹函数（大小写不敏感；"crc" 视为 crc32）。
func Lookup(name string) (Func, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" || n == "crc" {
		n = DefaultAlgorithm
	}
	f, ok := funcs[n]
	if !ok {
		return Func{}, fmt.Errorf("不支持的指纹算法 %q（可选：%s）", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names 返回已注册的算法名（已排序）。
func Names() []string {
	out := make([]string, 0, len(funcs))
	for n := range funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Sum 读取 r 的全部内容并返回 (十六进制指纹, 参与计算的字节数)。
// normalize=true 时先按 Detect 的结果规范化内容。
func (f Func) Sum(r io.Reader, normalize bool) (string, int64, error) {
	if normalize {
		nr, err := Normalize(r)
		if err != nil {
			return "", 0, err
		}
		r = nr
	}
	h := f.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Format 是根据文件头识别出的 rom 格式。
type Format int

const (
	FormatPlain Format = iota
	FormatINES
	FormatZ64
	FormatV64
	FormatN64
)

const headerLen = 16

// Detect 根据前 16 字节识别格式；不足 4 字节视为普通文件。
func Detect(header []byte) Format {
	if len(header) < 4 {
		return FormatPlain
	}
	switch string(header[:4]) {
	case "NES\x1a":
		return FormatINES
	case "\x80\x37\x12\x40":
		return FormatZ64
	case "\x37\x80\x40\x12":
		return FormatV64
	case "\x40\x12\x37\x80":
		return FormatN64
	}
	return FormatPlain
}

// Normalize 返回规范化后的内容：iNES 去头，N64 统一为 z64 字节序，其余原样。
func Normalize(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	header, err := br.Peek(headerLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	switch Detect(header) {
	case FormatINES:
		if len(header) == headerLen {
			if _, err := br.Discard(headerLen); err != nil {
				return nil, err
			}
		}
		return br, nil
	case FormatV64:
		return newSwapReader(br, 2), nil
	case FormatN64:
		return newSwapReader(br, 4), nil
	default:
		return br, nil
	}
}

// ToZ64 只做 N64 字节序转换（不去 iNES 头），用于写出归档内容。
func ToZ64(r io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	header, err := br.Peek(4)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	switch Detect(header) {
	case FormatV64:
		return newSwapReader(br, 2), nil
	case FormatN64:
		return newSwapReader(br, 4), nil
	default:
		return br, nil
	}
}

// swapReader 以 width 字节为单位反转字节顺序；末尾不足 width 的字节原样输出。
type swapReader struct {
	r     io.Reader
	width int
	buf   []byte
	out   []byte
	err   error
}

func newSwapReader(r io.Reader, width int) *swapReader {
	return &swapReader{r: r, width: width, buf: make([]byte, 64*1024)}
}

func (s *swapReader) Read(p []byte) (int, error) {
	if len(s.out) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		n, err := io.ReadFull(s.r, s.buf)
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			s.err = io.EOF
		default:
			s.err = err
		}
		chunk := s.buf[:n]
		full := n - n%s.width
		for i := 0; i < full; i += s.width {
			w := chunk[i : i+s.width]
			for a, b := 0, len(w)-1; a < b; a, b = a+1, b-1 {
				w[a], w[b] = w[b], w[a]
			}
		}
		s.out = chunk
		if n == 0 {
			return 0, s.err
		}
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}
