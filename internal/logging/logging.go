package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	// 未调用 Setup 时（例如单元测试）只输出 warn 以上。
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// Setup 按 -v 次数配置全局 logger：0=warn 1=info 2=debug 3+=trace。
//
// 输出：
// - stderr：人类可读的 ConsoleWriter（stdout 保留给 RunReport JSON）
// - 日志文件：logFile 为空时使用 $XDG_STATE_HOME/retrolist/retrolist.log；创建失败只告警
func Setup(verbosity int, logFile string) {
	switch {
	case verbosity <= 0:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case verbosity == 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case verbosity == 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}}

	if logFile == "" {
		logFile = DefaultLogFile()
	}
	f, err := openLogFile(logFile)
	if err == nil {
		writers = append(writers, f)
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	if err != nil {
		log.Warn().Err(err).Str("path", logFile).Msg("无法创建日志文件，仅输出到终端")
	}
	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", verbosity).Str("log_file", logFile).Msg("logger 初始化完成")
}

// GetLogger 返回带 component 字段的子 logger。
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// DefaultLogFile 返回默认日志文件位置。
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "retrolist", "retrolist.log")
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败：%w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败：%w", err)
	}
	return f, nil
}
