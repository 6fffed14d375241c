package emit

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/fingerprint"
	"github.com/John-Robertt/retrolist/internal/infra/archive"
	"github.com/John-Robertt/retrolist/internal/infra/fsx"
)

// archiveModTime 是所有归档成员的固定修改时间（MS-DOS 时间起点），保证重复运行字节一致。
var archiveModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ArchiveError 表示单个归档写入失败（非致命）。
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("%s：写入归档 %q 失败：%v", domain.ErrCodeArchiveWriteFailed, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// WriteArchive 把 plan 绑定的文件写成只含一个成员的 zip（deflate），原子覆盖 plan.DstAbs。
// toZ64=true 时 N64 镜像以 z64 字节序写出。
func WriteArchive(plan domain.ArchivePlan, toZ64 bool) error {
	src, err := openSource(plan.Binding.File)
	if err != nil {
		return &ArchiveError{Path: plan.DstAbs, Err: err}
	}
	defer src.Close()

	var r io.Reader = src
	if toZ64 {
		if r, err = fingerprint.ToZ64(src); err != nil {
			return &ArchiveError{Path: plan.DstAbs, Err: err}
		}
	}

	err = fsx.WriteStreamAtomicReplace(filepath.Dir(plan.DstAbs), filepath.Base(plan.DstAbs), func(w io.Writer) error {
		zw := zip.NewWriter(w)
		fh := &zip.FileHeader{
			Name:     plan.Entry,
			Method:   zip.Deflate,
			Modified: archiveModTime,
		}
		fh.SetMode(0o644)
		ew, err := zw.CreateHeader(fh)
		if err != nil {
			return err
		}
		if _, err := io.Copy(ew, r); err != nil {
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return &ArchiveError{Path: plan.DstAbs, Err: err}
	}
	return nil
}

// openSource 打开候选文件的内容；归档成员（zip/7z）从所在归档中读取。
func openSource(c domain.CandidateFile) (io.ReadCloser, error) {
	if !c.IsMember() {
		return os.Open(c.ArchivePath)
	}
	return archive.OpenMember(c.ArchivePath, c.Member)
}
