package run

import (
	"time"

	"github.com/John-Robertt/retrolist/internal/config"
	"github.com/John-Robertt/retrolist/internal/domain"
)

// 阶段名（OnPhaseDone / OnProgress 的 name 参数）。
const (
	PhaseLoad    = "load"
	PhaseScan    = "scan"
	PhaseResolve = "resolve"
	PhaseEmit    = "emit"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：扫描阶段的进度事件来自多个 goroutine。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个 Game 的归档处理完成时调用（dry-run 时为“已规划”）。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
	// OnProgress 报告阶段内进度（扫描阶段按文件计数）。
	OnProgress(phase string, done, total int, elapsed time.Duration)
}
