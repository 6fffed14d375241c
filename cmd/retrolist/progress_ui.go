package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/retrolist/internal/app/run"
	"github.com/John-Robertt/retrolist/internal/config"
	"github.com/John-Robertt/retrolist/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - 扫描阶段的进度按 tickerInterval 节流；长时间无输出时打印一行 keepalive
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	phase string
	done  int
	total int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (不写入任何文件)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] retrolist run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  dat: %s\n", eff.DAT)
	fmt.Fprintf(p.w, "  roms: %s\n", formatStringListJSON(eff.Roms))
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  priority: %s\n", formatStringListJSON(eff.Priority))
	if len(eff.Filter) > 0 {
		fmt.Fprintf(p.w, "  filter: %s\n", formatStringListJSON(eff.Filter))
	}
	fmt.Fprintf(p.w, "  include_bios: %s\n", onOff(eff.IncludeBIOS))
	fmt.Fprintf(p.w, "  hash: %s (normalize=%s)\n", eff.Hash, onOff(eff.Normalize))
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	if eff.NoCache {
		fmt.Fprintln(p.w, "  cache: off")
	} else {
		fmt.Fprintf(p.w, "  cache: %s\n", eff.CacheDB)
	}
	if eff.Prefix != "" {
		fmt.Fprintf(p.w, "  prefix: %s\n", eff.Prefix)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case run.PhaseLoad:
		fmt.Fprintf(p.w, "加载: system=%q games=%d releases=%d malformed=%d (%s)\n",
			stringField(fields, "system"),
			intField(fields, "games"),
			intField(fields, "releases"),
			intField(fields, "malformed"),
			formatShortDuration(dur),
		)
	case run.PhaseScan:
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "扫描: files=%d candidates=%d fingerprints=%d skipped=%d hash=%s (%s)\n",
			intField(fields, "files"),
			intField(fields, "candidates"),
			intField(fields, "fingerprints"),
			intField(fields, "skipped"),
			stringField(fields, "hash"),
			formatShortDuration(dur),
		)
	case run.PhaseResolve:
		fmt.Fprintf(p.w, "解析: bound=%d unresolved=%d filtered=%d (%s)\n\n",
			intField(fields, "bound"),
			intField(fields, "unresolved"),
			intField(fields, "filtered"),
			formatShortDuration(dur),
		)
	case run.PhaseEmit:
		fmt.Fprintf(p.w, "\n写出: written=%d failed=%d entries=%d (%s)\n",
			intField(fields, "written"),
			intField(fields, "failed"),
			intField(fields, "entries"),
			formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := strings.ToUpper(res.Status)
	switch res.Status {
	case domain.StatusWritten:
		status = "OK"
	case domain.StatusPlanned:
		status = "PLAN"
	case domain.StatusFailed:
		status = "FAIL"
	}

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s: %s (%s)\n",
			idx, total, res.Game, status, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "[%d/%d] %s %s -> %s\n",
			idx, total, status, truncate(res.Release, 80), res.Dst,
		)
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnProgress(phase string, done, total int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.phase = phase
	p.done = done
	p.total = total
	if !p.tickerStarted && done < total {
		p.startTickerLocked()
	}
	// 节流：每个 tickerInterval 至多一行。
	if done < total && time.Since(p.lastPrinted) < p.tickerInterval {
		return
	}
	fmt.Fprintf(p.w, "进度: %s %d/%d elapsed=%s\n", phase, done, total, formatElapsed(elapsed))
	p.lastPrinted = time.Now()
}

// Close 停止 keepalive ticker。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: %s %d/%d elapsed=%s\n",
						p.phase, p.done, p.total, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
