package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/retrolist/internal/app/planner"
	"github.com/John-Robertt/retrolist/internal/config"
	"github.com/John-Robertt/retrolist/internal/dat"
	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/emit"
	"github.com/John-Robertt/retrolist/internal/fingerprint"
	"github.com/John-Robertt/retrolist/internal/infra/cache"
	"github.com/John-Robertt/retrolist/internal/infra/fsx"
	"github.com/John-Robertt/retrolist/internal/infra/lock"
	"github.com/John-Robertt/retrolist/internal/logging"
	"github.com/John-Robertt/retrolist/internal/policy"
	"github.com/John-Robertt/retrolist/internal/resolve"
	"github.com/John-Robertt/retrolist/internal/scan"
)

// ReportFileName 是 apply 模式下写入输出目录的报告文件名。
const ReportFileName = "report.json"

// DiagStaleArchive 标记输出目录中存在、但本次运行不会产生的归档（只提示，不删除）。
const DiagStaleArchive = "stale_archive"

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
// 除 DAT 不可读（以及中断/锁冲突）外，所有问题都降级为 item 级失败或诊断。
func Execute(ctx context.Context, eff config.EffectiveConfig) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, obs Observer) domain.RunReport {
	log := logging.GetLogger("run")
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		DAT:       eff.DAT,
		DryRun:    !eff.Apply,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, 256),
	}
	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	// load：唯一的致命错误来源，必须在任何输出之前。
	loadStarted := time.Now()
	loaded, err := dat.Load(eff.DAT)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeUnreadableSource, err.Error()))
		return finish()
	}
	rr.Diagnostics = append(rr.Diagnostics, loaded.Diagnostics...)
	graph := loaded.Graph
	if obs != nil {
		releases := 0
		for _, g := range graph.Games {
			releases += len(g.Releases)
		}
		obs.OnPhaseDone(PhaseLoad, map[string]any{
			"system":    systemName(graph, eff.DAT),
			"games":     len(graph.Games),
			"releases":  releases,
			"malformed": len(loaded.Diagnostics),
		}, time.Since(loadStarted))
	}

	out, playlist := outputPaths(eff, graph)
	rr.Out = out
	rr.Playlist = playlist

	fn, err := fingerprint.Lookup(eff.Hash)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeConfigInvalid, err.Error()))
		return finish()
	}

	// scan：指纹缓存不可用时降级为不用缓存。
	var store *cache.Store
	if !eff.NoCache && strings.TrimSpace(eff.CacheDB) != "" {
		s, err := cache.Open(eff.CacheDB, false)
		if err != nil {
			log.Warn().Err(err).Str("cache_db", eff.CacheDB).Msg("指纹缓存不可用，本次不使用缓存")
		} else {
			store = s
			defer store.Close()
		}
	}

	scanStarted := time.Now()
	files, scanDiags := scan.ScanRoms(eff.Roms, []string{out})
	rr.Diagnostics = append(rr.Diagnostics, scanDiags...)
	ix, idxDiags, err := scan.BuildIndex(ctx, files, scan.Options{
		Func:        fn,
		Normalize:   eff.Normalize,
		Concurrency: eff.Concurrency,
		Cache:       store,
		OnFile: func(done, total int) {
			if obs != nil {
				obs.OnProgress(PhaseScan, done, total, time.Since(scanStarted))
			}
		},
	})
	rr.Diagnostics = append(rr.Diagnostics, idxDiags...)
	if err != nil {
		rr.Items = append(rr.Items, interruptedOrFailed(err, "扫描"))
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone(PhaseScan, map[string]any{
			"files":        len(files),
			"candidates":   ix.Len(),
			"fingerprints": ix.Fingerprints(),
			"skipped":      len(scanDiags) + len(idxDiags),
			"hash":         fn.Name,
		}, time.Since(scanStarted))
	}

	// resolve
	resolveStarted := time.Now()
	pol := policy.New(eff.Priority, eff.Filter, eff.IncludeBIOS)
	res := resolve.Resolve(graph, ix, fn.Name, pol)
	for _, u := range res.Unresolved {
		rr.Items = append(rr.Items, domain.ItemResult{
			Game:      u.GameKey,
			Release:   u.BestRelease,
			Status:    domain.StatusUnresolved,
			ErrorCode: domain.ErrCodeUnresolvedGame,
			ErrorMsg:  fmt.Sprintf("没有任何 release 在磁盘上找到匹配的文件（排名第一：%s）", u.BestRelease),
		})
	}
	for _, key := range res.Filtered {
		rr.Items = append(rr.Items, domain.ItemResult{Game: key, Status: domain.StatusFiltered})
	}
	if obs != nil {
		obs.OnPhaseDone(PhaseResolve, map[string]any{
			"bound":      len(res.Bindings),
			"unresolved": len(res.Unresolved),
			"filtered":   len(res.Filtered),
		}, time.Since(resolveStarted))
	}

	st, err := planner.ReadOutState(out)
	if err != nil {
		log.Warn().Err(err).Str("out", out).Msg("读取输出目录失败，按空目录规划")
		st = domain.OutState{OutDir: out, ExistingNames: map[string]struct{}{}}
	}
	plans := planner.PlanArchives(res.Bindings, st)
	for _, name := range planner.StaleArchives(st, plans) {
		rr.Diagnostics = append(rr.Diagnostics, domain.Diagnostic{
			Kind:    DiagStaleArchive,
			Subject: filepath.Join(out, name),
			Message: "输出目录中的归档不属于本次结果集（未删除）",
		})
	}

	if !eff.Apply {
		for i, p := range plans {
			it := planItem(p, domain.StatusPlanned)
			rr.Items = append(rr.Items, it)
			if obs != nil {
				obs.OnItemDone(i+1, len(plans), it, 0)
			}
		}
		return finish()
	}

	// apply：先锁住输出目录，再写任何东西。
	if err := fsx.EnsureDir(out); err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("创建输出目录失败：%v", err)))
		return finish()
	}
	dirLock, err := lock.Acquire(out)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeLockFailed, fmt.Sprintf("%s：%v", out, err)))
		return finish()
	}
	defer func() {
		if err := dirLock.Release(); err != nil {
			log.Warn().Err(err).Str("lock", dirLock.Path()).Msg("释放输出目录锁失败")
		}
	}()

	emitStarted := time.Now()
	itemStarted := time.Now()
	em := emit.New(emit.Options{
		Playlist:       playlist,
		PlaylistFormat: eff.PlaylistFormat,
		Prefix:         eff.Prefix,
		CorePath:       eff.CorePath,
		CoreName:       eff.CoreName,
		ToZ64:          eff.Normalize,
		OnItem: func(p domain.ArchivePlan, err error, done, total int) {
			it := planItem(p, domain.StatusWritten)
			if err != nil {
				it.Status = domain.StatusFailed
				it.ErrorCode = domain.ErrCodeArchiveWriteFailed
				it.ErrorMsg = err.Error()
			}
			rr.Items = append(rr.Items, it)
			if obs != nil {
				obs.OnItemDone(done, total, it, time.Since(itemStarted))
			}
			itemStarted = time.Now()
		},
	})
	emitted, err := em.Emit(ctx, plans)
	if err != nil {
		rr.Items = append(rr.Items, interruptedOrFailed(err, "写出"))
	}
	if obs != nil {
		obs.OnPhaseDone(PhaseEmit, map[string]any{
			"written":  len(emitted.Written),
			"failed":   len(emitted.Failed),
			"entries":  len(emitted.Entries),
			"playlist": emitted.Playlist,
		}, time.Since(emitStarted))
	}

	rr = finish()
	if err := writeReport(out, rr); err != nil {
		log.Warn().Err(err).Str("out", out).Msg("写入 report.json 失败")
	}
	return rr
}

// outputPaths 推导输出目录与 playlist 路径。
//
// - out 未指定：<cwd>/<system>
// - playlist 未指定：<out>/<system>.lpl
func outputPaths(eff config.EffectiveConfig, graph domain.Graph) (string, string) {
	system := planner.SanitizeName(systemName(graph, eff.DAT))

	out := eff.Out
	if out == "" {
		base := eff.WorkDir
		if base == "" {
			base = filepath.Dir(eff.DAT)
		}
		out = filepath.Join(base, system)
	}
	playlist := eff.Playlist
	if playlist == "" {
		playlist = filepath.Join(out, system+".lpl")
	}
	return out, playlist
}

// systemName 优先取 DAT 头部名称；缺失时用 DAT 文件名（去扩展名）。
func systemName(graph domain.Graph, datPath string) string {
	if n := graph.SystemName(); n != "" {
		return n
	}
	base := filepath.Base(datPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func planItem(p domain.ArchivePlan, status string) domain.ItemResult {
	return domain.ItemResult{
		Game:        p.Binding.GameKey,
		Release:     p.Binding.Release.Name,
		Status:      status,
		Src:         p.Binding.File.Path,
		Dst:         p.DstAbs,
		Fingerprint: p.Binding.File.Fingerprint,
	}
}

func interruptedOrFailed(err error, stage string) domain.ItemResult {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syntheticFailed(domain.ErrCodeInterrupted, fmt.Sprintf("%s阶段被中断：%v", stage, err))
	}
	var pe *emit.PlaylistError
	if errors.As(err, &pe) {
		return syntheticFailed(domain.ErrCodePlaylistFailed, err.Error())
	}
	return syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("%s失败：%v", stage, err))
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Game:      "",
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

func writeReport(out string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(out, ReportFileName, append(b, '\n'))
}
