package emit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/retrolist/internal/app/planner"
	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/infra/archive/archivetest"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

func plainBinding(key, release, romName, crc, src string) domain.Binding {
	return domain.Binding{
		GameKey: key,
		Release: domain.Release{Name: release},
		Rom:     domain.Rom{Name: romName, Fingerprints: map[string]string{"crc32": crc}},
		File:    domain.CandidateFile{Path: src, ArchivePath: src},
	}
}

func plan(t *testing.T, out string, bs ...domain.Binding) []domain.ArchivePlan {
	t.Helper()
	st, err := planner.ReadOutState(out)
	require.NoError(t, err)
	return planner.PlanArchives(bs, st)
}

func TestEmit_WritesArchivesAndPlaylist(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	src := filepath.Join(root, "roms", "foo.sfc")
	writeFile(t, src, []byte("foo-rom-bytes"))

	plans := plan(t, out, plainBinding("Foo (USA)", "Foo: Bar (USA)", "Foo - Bar (USA).sfc", "1a2b3c4d", src))
	playlist := filepath.Join(out, "SNES.lpl")

	res, err := New(Options{Playlist: playlist, Prefix: "/storage/roms/snes"}).Emit(context.Background(), plans)
	require.NoError(t, err)
	require.Len(t, res.Written, 1)
	assert.Empty(t, res.Failed)
	assert.Equal(t, playlist, res.Playlist)

	members := readZip(t, filepath.Join(out, "Foo - Bar (USA).zip"))
	assert.Equal(t, map[string][]byte{"Foo - Bar (USA).sfc": []byte("foo-rom-bytes")}, members)

	got, err := os.ReadFile(playlist)
	require.NoError(t, err)
	want := "/storage/roms/snes/Foo - Bar (USA).zip\n" +
		"Foo: Bar (USA)\n" +
		"DETECT\n" +
		"DETECT\n" +
		"1A2B3C4D|crc\n" +
		"SNES.lpl\n"
	assert.Equal(t, want, string(got))
}

func TestEmit_Idempotent(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	a := filepath.Join(root, "roms", "a.bin")
	b := filepath.Join(root, "roms", "b.bin")
	writeFile(t, a, bytes.Repeat([]byte("abc"), 5000))
	writeFile(t, b, []byte("bbbb"))

	bindings := []domain.Binding{
		plainBinding("A", "A (USA)", "A (USA).bin", "00000001", a),
		plainBinding("B", "B (Europe)", "B (Europe).bin", "00000002", b),
	}
	playlist := filepath.Join(out, "sys.lpl")
	e := New(Options{Playlist: playlist, PlaylistFormat: FormatJSON})

	snapshot := func() map[string][]byte {
		m := map[string][]byte{}
		for _, n := range []string{"A (USA).zip", "B (Europe).zip", "sys.lpl"} {
			data, err := os.ReadFile(filepath.Join(out, n))
			require.NoError(t, err)
			m[n] = data
		}
		return m
	}

	_, err := e.Emit(context.Background(), plan(t, out, bindings...))
	require.NoError(t, err)
	first := snapshot()

	_, err = e.Emit(context.Background(), plan(t, out, bindings...))
	require.NoError(t, err)
	assert.Equal(t, first, snapshot())
}

func TestEmit_FailedArchiveOmittedFromPlaylist(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	good := filepath.Join(root, "roms", "good.bin")
	writeFile(t, good, []byte("ok"))

	// 目标位置被目录占用：写入必然失败。
	require.NoError(t, os.MkdirAll(filepath.Join(out, "Blocked (USA).zip"), 0o755))

	plans := plan(t, out,
		plainBinding("Good", "Good (USA)", "g.bin", "00000001", good),
		plainBinding("Missing", "Missing (USA)", "m.bin", "00000002", filepath.Join(root, "roms", "gone.bin")),
		plainBinding("Blocked", "Blocked (USA)", "b.bin", "00000003", good),
	)
	playlist := filepath.Join(out, "sys.lpl")

	var calls int
	res, err := New(Options{Playlist: playlist, OnItem: func(domain.ArchivePlan, error, int, int) { calls++ }}).
		Emit(context.Background(), plans)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	require.Len(t, res.Written, 1)
	assert.Equal(t, "Good", res.Written[0].Binding.GameKey)
	require.Len(t, res.Failed, 2)
	for _, f := range res.Failed {
		var ae *ArchiveError
		assert.ErrorAs(t, f.Err, &ae)
	}

	require.Len(t, res.Entries, 1)
	assert.Equal(t, "Good (USA)", res.Entries[0].Label)

	_, err = os.Stat(filepath.Join(out, "Missing (USA).zip"))
	assert.True(t, os.IsNotExist(err), "失败的归档不应留下文件")
}

func TestEmit_ZipMemberSourceAndZ64Conversion(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	srcZip := filepath.Join(root, "roms", "n64.zip")

	// v64（16 位字节交换）头部 + 数据。
	v64 := []byte{0x37, 0x80, 0x40, 0x12, 0x02, 0x01, 0x04, 0x03}
	z64 := []byte{0x80, 0x37, 0x12, 0x40, 0x01, 0x02, 0x03, 0x04}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("inner.v64")
	require.NoError(t, err)
	_, err = w.Write(v64)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	writeFile(t, srcZip, buf.Bytes())

	b := domain.Binding{
		GameKey: "Mario",
		Release: domain.Release{Name: "Mario (USA)"},
		Rom:     domain.Rom{Name: "Mario (USA).z64"},
		File:    domain.CandidateFile{Path: srcZip + "#inner.v64", ArchivePath: srcZip, Member: "inner.v64"},
	}

	_, err = New(Options{ToZ64: true}).Emit(context.Background(), plan(t, out, b))
	require.NoError(t, err)
	assert.Equal(t, z64, readZip(t, filepath.Join(out, "Mario (USA).zip"))["Mario (USA).z64"])

	_, err = New(Options{}).Emit(context.Background(), plan(t, out, b))
	require.NoError(t, err)
	assert.Equal(t, v64, readZip(t, filepath.Join(out, "Mario (USA).zip"))["Mario (USA).z64"])
}

func TestEmit_SevenZipMemberSource(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	src := filepath.Join(root, "roms", "set.7z")
	archivetest.WriteSevenZip(t, src,
		archivetest.Entry{Name: "other.sfc", Data: []byte("other")},
		archivetest.Entry{Name: "foo (e).sfc", Data: []byte("foo-europe")},
	)

	b := domain.Binding{
		GameKey: "Foo",
		Release: domain.Release{Name: "Foo (Europe)"},
		Rom:     domain.Rom{Name: "Foo (Europe).sfc"},
		File:    domain.CandidateFile{Path: src + "#foo (e).sfc", ArchivePath: src, Member: "foo (e).sfc"},
	}
	res, err := New(Options{}).Emit(context.Background(), plan(t, out, b))
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []byte("foo-europe"), readZip(t, filepath.Join(out, "Foo (Europe).zip"))["Foo (Europe).sfc"])
}

func TestEmit_MissingZipMember(t *testing.T) {
	root := t.TempDir()
	srcZip := filepath.Join(root, "a.zip")
	var buf bytes.Buffer
	require.NoError(t, zip.NewWriter(&buf).Close())
	writeFile(t, srcZip, buf.Bytes())

	p := domain.ArchivePlan{
		Binding: domain.Binding{File: domain.CandidateFile{ArchivePath: srcZip, Member: "x.bin"}},
		Name:    "x.zip",
		DstAbs:  filepath.Join(root, "out", "x.zip"),
		Entry:   "x.bin",
	}
	err := WriteArchive(p, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmit_CanceledSkipsPlaylist(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	src := filepath.Join(root, "a.bin")
	writeFile(t, src, []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	playlist := filepath.Join(out, "sys.lpl")
	_, err := New(Options{Playlist: playlist}).Emit(ctx, plan(t, out, plainBinding("A", "A", "a.bin", "1", src)))
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(playlist)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEncodePlaylist_JSON(t *testing.T) {
	entries := []PlaylistEntry{{Path: "/r/a.zip", Label: "A", CorePath: "DETECT", CoreName: "DETECT", CRC32: "00000001|crc", DBName: "sys.lpl"}}
	data, err := EncodePlaylist(FormatJSON, entries)
	require.NoError(t, err)

	var doc struct {
		Version string          `json:"version"`
		Items   []PlaylistEntry `json:"items"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, jsonPlaylistVersion, doc.Version)
	assert.Equal(t, entries, doc.Items)

	empty, err := EncodePlaylist(FormatJSON, nil)
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"items": []`)

	_, err = EncodePlaylist("m3u", nil)
	assert.Error(t, err)
}

func TestNewEntry(t *testing.T) {
	p := domain.ArchivePlan{
		Binding: domain.Binding{Release: domain.Release{Name: "Foo\n(USA)"}},
		Name:    "Foo (USA).zip",
		DstAbs:  "/out/Foo (USA).zip",
	}

	e := NewEntry(p, "", "/cores/snes.so", "Snes9x", "sys.lpl")
	assert.Equal(t, "/out/Foo (USA).zip", e.Path)
	assert.Equal(t, "DETECT", e.CRC32, "rom 未声明 crc32 时交给前端检测")
	assert.Equal(t, "/cores/snes.so", e.CorePath)
	assert.Equal(t, "Snes9x", e.CoreName)

	assert.Equal(t, "/r/Foo (USA).zip", NewEntry(p, "/r/", "", "", "").Path)
	assert.Equal(t, `C:\r\Foo (USA).zip`, NewEntry(p, `C:\r\`, "", "", "").Path)

	data, err := EncodePlaylist(FormatLPL6, []PlaylistEntry{e})
	require.NoError(t, err)
	assert.Equal(t, 6, bytes.Count(data, []byte("\n")), "label 中的换行不能破坏六行格式")
}
