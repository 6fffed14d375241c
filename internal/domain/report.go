package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusWritten    = "written"
	StatusPlanned    = "planned"
	StatusUnresolved = "unresolved"
	StatusFiltered   = "filtered"
	StatusFailed     = "failed"
)

const (
	ErrCodeUnreadableSource   = "unreadable_source"
	ErrCodeMalformedMetadata  = "malformed_metadata"
	ErrCodeUnreadableFile     = "unreadable_file"
	ErrCodeUnresolvedGame     = "unresolved_game"
	ErrCodeArchiveWriteFailed = "archive_write_failed"
	ErrCodePlaylistFailed     = "playlist_write_failed"
	ErrCodeIOFailed           = "io_failed"
	ErrCodeLockFailed         = "lock_failed"
	ErrCodeInterrupted        = "interrupted"
	ErrCodeConfigNotFound     = "config_not_found"
	ErrCodeConfigInvalid      = "config_invalid"
	ErrCodeConfigMissingDAT   = "config_missing_dat"
	ErrCodeConfigMissingRoms  = "config_missing_roms"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID    string `json:"run_id"`
	DAT      string `json:"dat"`
	Out      string `json:"out"`
	Playlist string `json:"playlist"`
	DryRun   bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary     ReportSummary `json:"summary"`
	Items       []ItemResult  `json:"items"`
	Diagnostics []Diagnostic  `json:"diagnostics"`
}

type ReportSummary struct {
	Games        int `json:"games"`
	Written      int `json:"written"`
	Planned      int `json:"planned"`
	Unresolved   int `json:"unresolved"`
	Filtered     int `json:"filtered"`
	Failed       int `json:"failed"`
	SkippedFiles int `json:"skipped_files"`
	Malformed    int `json:"malformed"`
}

// ItemResult 是单个 Game 的处理结果。
type ItemResult struct {
	Game        string `json:"game"`
	Release     string `json:"release"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	Src         string `json:"src"`
	Dst         string `json:"dst"`
	Fingerprint string `json:"fingerprint"`
}

// Diagnostic 是与具体 Game 无关的非致命问题（元数据畸形、文件不可读等）。
type Diagnostic struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 按 game 字典序稳定排序（game=="" 的合成条目排在最后）；diagnostics 按 kind+subject 排序
// 3) summary 由 items/diagnostics 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	if r.Diagnostics == nil {
		r.Diagnostics = []Diagnostic{}
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Game
		b := r.Items[j].Game
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a < b
	})
	sort.SliceStable(r.Diagnostics, func(i, j int) bool {
		if r.Diagnostics[i].Kind != r.Diagnostics[j].Kind {
			return r.Diagnostics[i].Kind < r.Diagnostics[j].Kind
		}
		return r.Diagnostics[i].Subject < r.Diagnostics[j].Subject
	})

	var s ReportSummary
	for _, it := range r.Items {
		if it.Game != "" {
			s.Games++
		}
		switch it.Status {
		case StatusWritten:
			s.Written++
		case StatusPlanned:
			s.Planned++
		case StatusUnresolved:
			s.Unresolved++
		case StatusFiltered:
			s.Filtered++
		case StatusFailed:
			s.Failed++
		}
	}
	for _, d := range r.Diagnostics {
		switch d.Kind {
		case ErrCodeUnreadableFile:
			s.SkippedFiles++
		case ErrCodeMalformedMetadata:
			s.Malformed++
		}
	}
	r.Summary = s
}

// OK 表示本次运行没有 unresolved/failed 条目。
func (r RunReport) OK() bool {
	return r.Summary.Unresolved == 0 && r.Summary.Failed == 0
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
