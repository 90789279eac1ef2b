package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/mattn/go-isatty"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BenjaminRains/dbt-dental-clinic-sub004/cmd"
)

const (
	// exitFail is the exit code if the program
	// fails.
	exitFail = 1
	// exitSuccess is the exit code if the program succeeds.
	exitSuccess = 0
)

// https://pace.dev/blog/2020/02/12/why-you-shouldnt-use-func-main-in-golang-by-mat-ryer
func main() {
	var level zap.AtomicLevel
	if os.Getenv("DEBUG") != "" {
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zapConfig := &zap.Config{
		Level:            level,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := zapConfig.Build(zap.Fields(
		zap.String("service", "dental-clinic-etl"),
		zap.String("version", buildVersion()),
	))
	if err != nil {
		panic(err)
	}

	// set GOMAXPROCS based on container limits
	undo, err := maxprocs.Set()
	defer undo()
	if err != nil {
		l.Fatal("failed to set GOMAXPROCS:", zap.Error(err))
	}

	if err := cmd.Run(l); err != nil {
		l.Error(fmt.Sprintf("%+v\n", err), zap.Error(err))
		os.Exit(exitFail)
	}
	l.Info("Successful completion")
	os.Exit(exitSuccess)
}

func buildVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return "unknown"
	}
	for _, setting := range bi.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return "unknown"
}
