package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"regwatch/internal/cli"
	"regwatch/internal/config/flatkeys"
)

const (
	defaultConfigPath = "regwatch.toml"
	// EnvConfigPath selects the config file when -config is not given.
	envConfigPath = "REGWATCH_CONFIG"
	// envConfigOverrides holds comma separated key=value overrides.
	envConfigOverrides = "REGWATCH_CONFIG_OVERRIDES"
)

type flagValues struct {
	ConfigPath     string
	Addr           string
	Token          string
	LogLevel       string
	Keys           []string
	Overrides      []string
	ReportFailures bool
	NoReload       bool
	Help           bool
	Version        bool
	Set            map[string]bool
}

func parseFlags(args []string, getenv func(string) string, out io.Writer) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	configDefault := defaultConfigPath
	if getenv != nil {
		if value := strings.TrimSpace(getenv(envConfigPath)); value != "" {
			configDefault = value
		}
	}

	fs := flag.NewFlagSet("regwatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", configDefault, "Config file (.toml, .yaml or .yml)")
	addr := fs.String("addr", "", "HTTP listen address")
	token := fs.String("token", "", "Auth token for REST/WS/SSE")
	logLevel := fs.String("log-level", "", "Minimum log level (debug, info, warning, error)")
	reportFailures := fs.Bool("report-failures", false, "Report arm failures to subscribers")
	noReload := fs.Bool("no-reload", false, "Do not watch the config file for changes")
	keys := cli.AddStringList(fs, "Registry key to watch, e.g. HKCU\\Software\\App (repeatable)", "key")
	overrides := cli.AddStringList(fs, "Config override key=value (repeatable)", "set")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show help", "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}
	if fs.NArg() > 0 {
		return flagValues{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	set := make(map[string]bool)
	fs.Visit(func(flag *flag.Flag) {
		set[flag.Name] = true
	})

	flags := flagValues{
		ConfigPath:     *configPath,
		Addr:           *addr,
		Token:          *token,
		LogLevel:       *logLevel,
		Keys:           *keys,
		Overrides:      *overrides,
		ReportFailures: *reportFailures,
		NoReload:       *noReload,
		Help:           helpVersion.Help,
		Version:        helpVersion.Version,
		Set:            set,
	}

	if flags.Help {
		if out != nil {
			fs.SetOutput(out)
		}
		fs.Usage()
		return flags, flag.ErrHelp
	}
	return flags, nil
}

// overrides converts explicitly set flags into config overrides.
func (flags flagValues) overrides() map[string]any {
	overrides := map[string]any{}
	if flags.Set["addr"] {
		overrides["server.addr"] = flags.Addr
	}
	if flags.Set["token"] {
		overrides["server.auth-token"] = flags.Token
	}
	if flags.Set["log-level"] {
		overrides["log.level"] = flags.LogLevel
	}
	if flags.Set["report-failures"] {
		overrides["watch.report-failures"] = flags.ReportFailures
	}
	if len(flags.Keys) > 0 {
		overrides["watch.keys"] = append([]string(nil), flags.Keys...)
	}
	return overrides
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: regwatch [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Watches Windows registry keys and streams change events over HTTP.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  -config PATH          Config file (default regwatch.toml, env REGWATCH_CONFIG)")
	fmt.Fprintln(out, "  -addr HOST:PORT       HTTP listen address (env REGWATCH_ADDR)")
	fmt.Fprintln(out, "  -token TOKEN          Auth token for REST/WS/SSE (env REGWATCH_TOKEN)")
	fmt.Fprintln(out, "  -log-level LEVEL      debug, info, warning or error (env REGWATCH_LOG_LEVEL)")
	fmt.Fprintln(out, "  -key PATH             Registry key to watch; repeatable (env REGWATCH_KEYS, ';' separated)")
	fmt.Fprintln(out, "  -set KEY=VALUE        Config override; repeatable (env REGWATCH_CONFIG_OVERRIDES)")
	fmt.Fprintln(out, "  -report-failures      Report arm failures to subscribers")
	fmt.Fprintln(out, "  -no-reload            Do not watch the config file for changes")
	fmt.Fprintln(out, "  -h, -help             Show help")
	fmt.Fprintln(out, "  -v, -version          Print version and exit")
}

func parseConfigOverrides(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any)
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			return nil, fmt.Errorf("config override cannot be empty")
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			return nil, fmt.Errorf("config override must be key=value: %q", entry)
		}
		normalizedKey := flatkeys.NormalizeKey(key)
		if normalizedKey == "" {
			return nil, fmt.Errorf("config override key cannot be empty")
		}
		overrides[normalizedKey] = parseOverrideValue(strings.TrimSpace(value))
	}
	return overrides, nil
}

func parseConfigOverridesEnv(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	entries := make([]string, 0, len(parts))
	for _, part := range parts {
		entry := strings.TrimSpace(part)
		if entry == "" {
			return nil, fmt.Errorf("config override entry cannot be empty")
		}
		entries = append(entries, entry)
	}
	return parseConfigOverrides(entries)
}

func parseOverrideValue(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	return value
}
