package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/retrolist/internal/app/run"
	"github.com/John-Robertt/retrolist/internal/config"
	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/logging"
)

// 退出码：0 全部解析并写出；1 存在 unresolved/failed 或致命错误；2 用法错误。
const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// exitError 携带 run 的退出码；其余错误一律视为用法错误。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// execute 构建并执行命令树，返回进程退出码。
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误：%v\n使用 \"retrolist run --help\" 查看详细说明。\n", err)
	return exitUsage
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		verbosity int
		logFile   string
	)

	rootCmd := &cobra.Command{
		Use:           "retrolist",
		Short:         "按 parent/clone DAT 为每个游戏挑选唯一的 rom（1G1R），生成 playlist 与单文件 zip 集合",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(verbosity, logFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error { return err })

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "日志详细程度（-v info，-vv debug，-vvv trace）")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "日志文件路径（默认 $XDG_STATE_HOME/retrolist/retrolist.log）")

	rootCmd.AddCommand(newRunCommand(stdout, stderr))
	return rootCmd
}

type runFlags struct {
	config      string
	dat         string
	out         string
	playlist    string
	prefix      string
	priority    []string
	filter      []string
	includeBIOS bool
	apply       bool
	hash        string
	concurrency int
	noCache     bool
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run [rom 目录...]",
		Short: "解析并输出 1G1R 集合（默认 dry-run）",
		Long: `扫描 rom 目录（递归，含 zip/7z 成员），按 DAT 的 parent/clone 关系与地区优先级为每个游戏选出唯一的 release。

默认 dry-run：只解析并输出报告，不写任何文件；--apply 才会写出归档、playlist 与 <out>/report.json。
stdout 不是终端时只输出一个 RunReport JSON；进度与摘要写到 stderr。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cli := config.CLIArgs{
				ConfigPath:     rf.config,
				DAT:            rf.dat,
				Roms:           args,
				Out:            rf.out,
				Playlist:       rf.playlist,
				Prefix:         rf.prefix,
				Priority:       rf.priority,
				PrioritySet:    flags.Changed("priority"),
				Filter:         rf.filter,
				FilterSet:      flags.Changed("filter"),
				IncludeBIOS:    rf.includeBIOS,
				IncludeBIOSSet: flags.Changed("include-bios"),
				Apply:          rf.apply,
				ApplySet:       flags.Changed("apply"),
				Concurrency:    rf.concurrency,
				ConcurrencySet: flags.Changed("concurrency"),
				Hash:           rf.hash,
				HashSet:        flags.Changed("hash"),
				NoCache:        rf.noCache,
				NoCacheSet:     flags.Changed("no-cache"),
			}
			return &exitError{code: runCmd(cmd.Context(), cli, stdout, stderr)}
		},
	}

	f := cmd.Flags()
	f.StringVarP(&rf.config, "config", "c", "", "配置文件路径（默认尝试 ./retrolist.toml）")
	f.StringVarP(&rf.dat, "dat", "d", "", "parent/clone DAT（No-Intro XML）")
	f.StringVarP(&rf.out, "out", "o", "", "归档输出目录（默认 ./<系统名>）")
	f.StringVarP(&rf.playlist, "playlist", "l", "", "playlist 输出路径（默认 <out>/<系统名>.lpl）")
	f.StringVarP(&rf.prefix, "prefix", "x", "", "playlist 中游戏路径的前缀（例如 /storage/roms/snes）")
	f.StringSliceVarP(&rf.priority, "priority", "p", nil, "地区优先级（默认 USA,EUR,JPN）")
	f.StringSliceVarP(&rf.filter, "filter", "f", nil, "只保留触及这些地区的 release")
	f.BoolVarP(&rf.includeBIOS, "include-bios", "b", false, "包含名称带 [BIOS] 的条目")
	f.BoolVar(&rf.apply, "apply", false, "写出归档与 playlist（默认 dry-run）；支持 --apply=false 覆盖配置")
	f.StringVar(&rf.hash, "hash", "", "指纹算法：crc32|md5|sha1（默认 crc32）")
	f.IntVarP(&rf.concurrency, "concurrency", "j", 0, "计算指纹的并发数（默认 4，范围 1-32）")
	f.BoolVar(&rf.noCache, "no-cache", false, "不读写指纹缓存")
	cmd.MarkFlagsMutuallyExclusive("priority", "filter")

	return cmd
}

func runCmd(parent context.Context, cli config.CLIArgs, stdout, stderr io.Writer) int {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return exitFail
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		emitReport(stdout, stderr, reportForConfigError(cli, err))
		return exitFail
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := pickProgressWriter(stdout, stderr)
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Close()
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, obs)

	emitReport(stdout, stderr, rr)
	if interactive {
		emitLocations(progressW, rr)
	}
	if rr.OK() {
		return exitOK
	}
	return exitFail
}

// emitReport：stdout 是终端时打印摘要表；否则 stdout 只输出一个 RunReport JSON（摘要走 stderr）。
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	if isTTY(stdout) {
		fmt.Fprintln(stdout, renderSummary(rr))
		if problems := renderProblems(rr); problems != "" {
			fmt.Fprintln(stderr, problems)
		}
		return
	}

	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	return fmt.Sprintf("完成：games=%d written=%d planned=%d unresolved=%d filtered=%d failed=%d skipped_files=%d",
		s.Games, s.Written, s.Planned, s.Unresolved, s.Filtered, s.Failed, s.SkippedFiles,
	)
}

func reportForConfigError(cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		DAT:        cli.DAT,
		DryRun:     !(cli.ApplySet && cli.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func emitLocations(w io.Writer, rr domain.RunReport) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "out: %s\n", rr.Out)
	fmt.Fprintf(w, "playlist: %s\n", rr.Playlist)
	if !rr.DryRun && rr.Out != "" {
		fmt.Fprintf(w, "report: %s\n", filepath.Join(rr.Out, run.ReportFileName))
	}
}
