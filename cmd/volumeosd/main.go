package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const version = "1.0.0"

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "volumeosd v%s\n", version)
	fmt.Fprintln(w, "Keyboard-driven volume on-screen display daemon")
}

func printUsage(fs *flag.FlagSet) func() {
	return func() {
		w := fs.Output()
		printVersion(w)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "USAGE:")
		fmt.Fprintln(w, "  volumeosd [OPTIONS]")
		fmt.Fprintln(w, "  volumeosd list-devices")
		fmt.Fprintln(w, "  volumeosd install-service [OPTIONS]")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "OPTIONS:")
		fs.PrintDefaults()
		fmt.Fprintln(w)
		fmt.Fprintln(w, "KEYS (defaults):")
		fmt.Fprintln(w, "  Volume Up / Volume Down / Mute media keys")
		fmt.Fprintln(w, "  Alt+Up / Alt+Down / Alt+M")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "NOTES:")
		fmt.Fprintln(w, "  - Requires read access to /dev/input (run as root or add user to 'input' group)")
		fmt.Fprintln(w, "  - Theme: -theme > OSD_THEME > display.theme > osd.conf theme= > dark")
		fmt.Fprintf(w, "  - Themes: %s\n", themeNames())
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "list-devices":
			return runListDevices(os.Stdout)
		case "install-service":
			return runInstallService(args[1:])
		}
	}

	fs := flag.NewFlagSet("volumeosd", flag.ContinueOnError)
	var (
		configPath   = fs.String("config", "", "Path to YAML config file (default: $XDG_CONFIG_HOME/volumeosd/config.yaml or ~/.config/volumeosd/config.yaml)")
		theme        = fs.String("theme", "", "OSD theme: "+themeNames())
		inputBackend = fs.String("input-backend", "", "Input backend: evdev|raw")
		audioBackend = fs.String("audio-backend", "", "Audio backend: pactl|camilladsp")
		step         = fs.Int("step", 0, "Volume step in percent")
		httpAddr     = fs.String("http-addr", "", "Websocket/status listen address")
		ipcSocket    = fs.String("ipc-socket", "", "Unix domain socket path for IPC")
		logLevelStr  = fs.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion  = fs.Bool("version", false, "Print version and exit")
		devices      stringList
	)
	fs.Var(&devices, "device", "Input device to monitor (repeatable; default: discover keyboards)")
	fs.Usage = printUsage(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		printVersion(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			d := []string(devices)
			o.Devices = &d
		case "input-backend":
			o.InputBackend = inputBackend
		case "audio-backend":
			o.AudioBackend = audioBackend
		case "step":
			o.StepPercent = step
		case "http-addr":
			o.HTTPAddr = httpAddr
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		return 1
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, level)

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	sources := themeSources{
		Flag:        *theme,
		Env:         os.Getenv("OSD_THEME"),
		Config:      cfg.Display.Theme,
		LegacyFiles: legacyThemeFiles(),
	}
	selectedTheme := resolveTheme(sources, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(cfg, systemDeps(), logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer cleanup()

	// The flag pins the theme; otherwise follow edits to the files.
	if sources.Flag == "" {
		deps.ThemeFiles = append([]string(nil), sources.LegacyFiles...)
		if cfgFile != "" {
			deps.ThemeFiles = append(deps.ThemeFiles, ExpandPath(cfgFile))
		}
		deps.ResolveTheme = func() Theme {
			src := sources
			if cfgFile != "" {
				if c, err := LoadConfigFile(cfgFile); err == nil {
					src.Config = c.Display.Theme
				} else {
					logger.Warn("config reload failed, keeping previous display.theme", "error", err)
				}
			}
			return resolveTheme(src, logger)
		}
	}

	d, err := newDaemon(cfg, selectedTheme, deps, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon failed", "error", err)
		return 1
	}
	return 0
}

// loadConfig loads path, or the first default config file found, or the
// built-in defaults.
func loadConfig(path string) (Config, error) {
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfigFile(path)
}

// depsEnv holds the constructors buildDeps uses to reach real devices,
// backends and brokers.
type depsEnv struct {
	listDevices func() ([]deviceInfo, error)
	openGPIO    func(GPIOConfig) (eventSource, error)
	newAudio    func(AudioConfig, *slog.Logger) (AudioBackend, error)
	newMQTT     func(MQTTConfig, *slog.Logger) (*mqttPublisher, error)
}

func systemDeps() depsEnv {
	return depsEnv{
		listDevices: listInputDevices,
		openGPIO:    openGPIOSource,
		newAudio:    newAudioBackend,
		newMQTT:     newMQTTPublisher,
	}
}

// buildDeps opens the devices and backends cfg asks for. On error
// everything opened so far is closed again and no cleanup is returned.
func buildDeps(cfg Config, env depsEnv, logger *slog.Logger) (daemonDeps, func(), error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}
	fail := func(err error) (daemonDeps, func(), error) {
		closeAll()
		return daemonDeps{}, nil, err
	}

	open, err := openerFor(cfg.Input.Backend)
	if err != nil {
		return fail(err)
	}

	devices, err := resolveDevices(cfg.Input.Devices, env.listDevices, logger)
	if err != nil {
		if !cfg.Input.GPIO.Enabled {
			return fail(err)
		}
		// GPIO buttons alone are a valid setup.
		logger.Warn("no keyboard devices, using gpio buttons only", "error", err)
	}
	deps := daemonDeps{Devices: devices, Open: open}

	if cfg.Input.GPIO.Enabled {
		src, err := env.openGPIO(cfg.Input.GPIO)
		if err != nil {
			return fail(fmt.Errorf("gpio buttons: %w", err))
		}
		closers = append(closers, src.Close)
		deps.GPIO = src
	}

	backend, err := env.newAudio(cfg.Audio, logger)
	if err != nil {
		return fail(fmt.Errorf("audio backend: %w", err))
	}
	closers = append(closers, backend.Close)
	deps.Backend = backend

	if cfg.MQTT.Enabled {
		pub, err := env.newMQTT(cfg.MQTT, logger)
		if err != nil {
			// The OSD works without MQTT.
			logger.Warn("mqtt disabled", "error", err)
		} else {
			deps.MQTT = pub
		}
	}

	return deps, closeAll, nil
}

func runListDevices(w io.Writer) int {
	infos, err := listInputDevices()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	for _, d := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Path, classifyDevice(d.Name, d.Keys), d.Name)
	}
	return 0
}

func runInstallService(args []string) int {
	logger := setupLogger(os.Stdout, slog.LevelInfo)

	inst, err := newServiceInstaller(args, logger)
	if err != nil {
		logger.Error("install-service failed", "error", err)
		return 1
	}
	if err := inst.Install(); err != nil {
		logger.Error("install-service failed", "error", err)
		return 1
	}
	return 0
}
