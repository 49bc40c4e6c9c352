package util

import (
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TRACKER_"

func InitLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("DEV") != "" {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// InitConfig loads the TOML config file then applies environment overrides
// (TRACKER_ prefix, double underscore as the key separator, e.g.
// TRACKER_CHAIN__RPC_ENDPOINT -> chain.rpc_endpoint). Required values are
// read with ko.Must* accessors at the call sites, which halt the process
// when a key is absent.
func InitConfig(lo *slog.Logger, confFilePath string) *koanf.Koanf {
	ko := koanf.New(".")

	confFile := file.Provider(confFilePath)
	if err := ko.Load(confFile, toml.Parser()); err != nil {
		lo.Error("could not load config file", "error", err)
		os.Exit(1)
	}

	if err := ko.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__",
			".",
		)
	}), nil); err != nil {
		lo.Error("could not override config from env vars", "error", err)
		os.Exit(1)
	}

	return ko
}
