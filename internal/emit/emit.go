// Package emit 把解析结果落盘：每个 Binding 一个单文件 zip，外加一份 playlist。
package emit

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/logging"
)

// Options 控制 Emitter 的输出。
type Options struct {
	// Playlist 为空时不写 playlist。
	Playlist       string
	PlaylistFormat string
	Prefix         string
	CorePath       string
	CoreName       string
	// ToZ64 为 true 时 N64 镜像以 z64 字节序写出（与指纹规范化保持一致）。
	ToZ64 bool

	// OnItem 在每个归档处理完后调用（done 从 1 开始）。
	OnItem func(plan domain.ArchivePlan, err error, done, total int)
}

// Failure 是单个归档的失败记录。
type Failure struct {
	Plan domain.ArchivePlan
	Err  error
}

// Result 是一次 Emit 的结果。
type Result struct {
	Written  []domain.ArchivePlan
	Failed   []Failure
	Entries  []PlaylistEntry
	Playlist string
}

type Emitter struct {
	opts Options
}

func New(opts Options) *Emitter {
	if opts.PlaylistFormat == "" {
		opts.PlaylistFormat = FormatLPL6
	}
	return &Emitter{opts: opts}
}

// Entries 返回 plans 对应的 playlist 记录（不做任何写入，dry-run 也可用）。
func (e *Emitter) Entries(plans []domain.ArchivePlan) []PlaylistEntry {
	db := dbName(e.opts.Playlist)
	out := make([]PlaylistEntry, 0, len(plans))
	for _, p := range plans {
		out = append(out, NewEntry(p, e.opts.Prefix, e.opts.CorePath, e.opts.CoreName, db))
	}
	return out
}

// Emit 依次写出归档，最后写 playlist。
//
// - 单个归档失败：记入 Failed，对应条目不进入 playlist，继续处理
// - ctx 取消：立即返回 ctx.Err()，不写 playlist
// - playlist 写入失败：返回 *PlaylistError（归档已写出的部分保留）
func (e *Emitter) Emit(ctx context.Context, plans []domain.ArchivePlan) (Result, error) {
	log := logging.GetLogger("emit")

	var res Result
	written := make([]domain.ArchivePlan, 0, len(plans))
	for i, p := range plans {
		if err := ctx.Err(); err != nil {
			res.Written = written
			return res, err
		}

		err := WriteArchive(p, e.opts.ToZ64)
		if err != nil {
			log.Warn().Err(err).Str("game", p.Binding.GameKey).Str("dst", p.DstAbs).Msg("归档写入失败")
			res.Failed = append(res.Failed, Failure{Plan: p, Err: err})
		} else {
			log.Debug().Str("game", p.Binding.GameKey).Str("src", p.Binding.File.Path).Str("dst", p.DstAbs).Msg("归档已写入")
			written = append(written, p)
		}
		if e.opts.OnItem != nil {
			e.opts.OnItem(p, err, i+1, len(plans))
		}
	}
	res.Written = written
	res.Entries = e.Entries(written)

	if e.opts.Playlist == "" {
		return res, nil
	}
	if err := WritePlaylist(e.opts.Playlist, e.opts.PlaylistFormat, res.Entries); err != nil {
		return res, err
	}
	res.Playlist = e.opts.Playlist
	log.Info().Str("playlist", e.opts.Playlist).Int("entries", len(res.Entries)).Msg("playlist 已写入")
	return res, nil
}

// dbName 是 playlist 的文件名（前端据此关联数据库）。
func dbName(playlist string) string {
	if playlist == "" {
		return ""
	}
	return filepath.Base(strings.TrimSpace(playlist))
}
