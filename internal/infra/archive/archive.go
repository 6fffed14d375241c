// Package archive 以统一方式读取 zip 与 7z 归档中的常规文件成员。
//
// 成员名沿用归档内的原始路径（"/" 分隔）；目录条目不会出现在 Members 中。
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// ErrNotArchive 表示文件不是受支持的归档（扩展名不符，或内容不是对应格式）。
// 调用方通常应退回到按普通文件处理。
var ErrNotArchive = errors.New("不是受支持的归档")

// Kind 是归档格式。
type Kind int

const (
	KindNone Kind = iota
	KindZip
	KindSevenZip
)

var sevenZipMagic = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}

// KindOf 只按扩展名判断（大小写不敏感）。
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return KindZip
	case ".7z":
		return KindSevenZip
	default:
		return KindNone
	}
}

// Member 是归档中的一个常规文件。
type Member struct {
	Name string
	Size int64

	open func() (io.ReadCloser, error)
}

// Open 打开成员内容。返回的 ReadCloser 只在所属 Reader 关闭前有效。
func (m Member) Open() (io.ReadCloser, error) { return m.open() }

// Reader 是一个已打开的归档。
type Reader struct {
	Path    string
	Kind    Kind
	Members []Member

	closer io.Closer
}

func (r *Reader) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Open 打开 path 指向的归档并列出成员。
//
// 扩展名不受支持、zip 结构无效、7z 签名缺失时返回包装了 ErrNotArchive 的错误；
// 其余错误（权限、损坏的 7z 头等）原样返回。
func Open(path string) (*Reader, error) {
	switch KindOf(path) {
	case KindZip:
		return openZip(path)
	case KindSevenZip:
		return openSevenZip(path)
	default:
		return nil, fmt.Errorf("%s：%w", path, ErrNotArchive)
	}
}

func openZip(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%s：%w", path, ErrNotArchive)
		}
		return nil, err
	}

	r := &Reader{Path: path, Kind: KindZip, closer: zr}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		r.Members = append(r.Members, Member{
			Name: zf.Name,
			Size: int64(zf.UncompressedSize64),
			open: zf.Open,
		})
	}
	return r, nil
}

func openSevenZip(path string) (*Reader, error) {
	ok, err := hasSevenZipMagic(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s：%w", path, ErrNotArchive)
	}

	sr, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{Path: path, Kind: KindSevenZip, closer: sr}
	for _, sf := range sr.File {
		if sf.FileInfo().IsDir() {
			continue
		}
		r.Members = append(r.Members, Member{
			Name: sf.Name,
			Size: int64(sf.UncompressedSize),
			open: sf.Open,
		})
	}
	return r, nil
}

func hasSevenZipMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(sevenZipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, sevenZipMagic), nil
}

// OpenMember 打开归档 path 中名为 name 的成员；关闭返回值时一并关闭归档。
// 成员不存在时返回的错误包装 os.ErrNotExist。
func OpenMember(path, name string) (io.ReadCloser, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	for _, m := range r.Members {
		if m.Name != name {
			continue
		}
		rc, err := m.Open()
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		return &memberReader{ReadCloser: rc, archive: r}, nil
	}
	_ = r.Close()
	return nil, fmt.Errorf("%s 中找不到成员 %q：%w", path, name, os.ErrNotExist)
}

type memberReader struct {
	io.ReadCloser
	archive *Reader
}

func (m *memberReader) Close() error {
	return errors.Join(m.ReadCloser.Close(), m.archive.Close())
}
