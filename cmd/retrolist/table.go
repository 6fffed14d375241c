package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/retrolist/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// maxProblemRows 限制终端里逐条列出的问题数量；完整列表见 report.json / JSON 输出。
const maxProblemRows = 50

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderSummary 渲染运行摘要（两列：指标 / 数量）。
func renderSummary(rr domain.RunReport) string {
	s := rr.Summary
	mode := "apply"
	if rr.DryRun {
		mode = "dry-run"
	}
	rows := [][]string{
		{"games", fmt.Sprint(s.Games)},
		{"written", fmt.Sprint(s.Written)},
		{"planned", fmt.Sprint(s.Planned)},
		{"unresolved", fmt.Sprint(s.Unresolved)},
		{"filtered", fmt.Sprint(s.Filtered)},
		{"failed", fmt.Sprint(s.Failed)},
		{"skipped files", fmt.Sprint(s.SkippedFiles)},
		{"malformed", fmt.Sprint(s.Malformed)},
	}
	return renderTable([]string{"完成 (" + mode + ")", "数量"}, rows, []columnAlignment{alignLeft, alignRight})
}

// renderProblems 渲染 unresolved/failed 条目；没有问题时返回空串。
func renderProblems(rr domain.RunReport) string {
	var rows [][]string
	more := 0
	for _, it := range rr.Items {
		if it.Status != domain.StatusFailed && it.Status != domain.StatusUnresolved {
			continue
		}
		if len(rows) >= maxProblemRows {
			more++
			continue
		}
		key := it.Game
		if key == "" {
			key = "<run>"
		}
		rows = append(rows, []string{key, it.Release, it.ErrorCode, truncate(it.ErrorMsg, 100)})
	}
	if len(rows) == 0 {
		return ""
	}
	out := renderTable([]string{"game", "release", "error_code", "message"}, rows, nil)
	if more > 0 {
		out += fmt.Sprintf("\n……另有 %d 条未列出", more)
	}
	return strings.TrimRight(out, "\n")
}
