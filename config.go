package kitd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the supervisor's configuration, immutable once ParseConfig
// returns, per spec.md section 3.
type Config struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`

	Daemonize bool `yaml:"daemonize"`

	RestartInitial time.Duration `yaml:"restartInitial"`
	Cooloff        time.Duration `yaml:"cooloff"`
	Maximum        time.Duration `yaml:"maximum"`

	// MetricsAddr, when non-empty, serves a read-only Prometheus scrape
	// endpoint (SPEC_FULL.md section 8.1). Empty means no listener at
	// all, matching the spec's default "no network control surface".
	MetricsAddr string `yaml:"metricsAddr,omitempty"`

	// WatchBinary restarts the child when its executable is replaced on
	// disk (SPEC_FULL.md section 8.2). Off by default.
	WatchBinary bool `yaml:"watchBinary"`
}

const (
	defaultRestartInitial = time.Second
	defaultCooloff        = 15 * time.Minute
	defaultMaximum        = time.Hour
)

// ParseConfig parses the operator-facing flag grammar from spec.md
// section 6: "[-d] [-c cooloff] [-m maximum] [-n name] [-t restart]
// command [args...]", plus two kitd-specific additions documented in
// SPEC_FULL.md section 8 (-M, -w). Unknown flags and a missing command
// are both fatal configuration errors.
func ParseConfig(programName string, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	fs.SetOutput(nopWriter{})
	// Stop at the first non-flag argument: everything from the command on
	// is the command's own argv, even if it looks like a flag.
	fs.SetInterspersed(false)

	daemonizeOff := fs.BoolP("foreground", "d", false, "do not daemonize; keep the controlling terminal and echo logs to stderr")
	cooloffText := fs.StringP("cooloff", "c", "", "uptime threshold that resets backoff to the initial interval (default 15m)")
	maximumText := fs.StringP("maximum", "m", "", "upper cap on the restart backoff (default 1h)")
	name := fs.StringP("name", "n", "", "syslog identity and process title (default: basename of command)")
	restartText := fs.StringP("restart", "t", "", "initial restart backoff interval (default 1s)")
	metricsAddr := fs.StringP("metrics", "M", "", "address to serve a read-only Prometheus /metrics endpoint on, e.g. 127.0.0.1:9090 (default: disabled)")
	watchBinary := fs.BoolP("watch-binary", "w", false, "restart the child when its executable is replaced on disk")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}

	command := fs.Args()
	if len(command) == 0 {
		return nil, fmt.Errorf("usage: no command given")
	}

	cfg := &Config{
		Command:        command,
		Daemonize:      !*daemonizeOff,
		RestartInitial: defaultRestartInitial,
		Cooloff:        defaultCooloff,
		Maximum:        defaultMaximum,
		MetricsAddr:    *metricsAddr,
		WatchBinary:    *watchBinary,
	}

	if *name != "" {
		cfg.Name = *name
	} else {
		cfg.Name = filepath.Base(command[0])
	}

	var err error
	if cfg.RestartInitial, err = parseIntervalFlag(*restartText, cfg.RestartInitial); err != nil {
		return nil, fmt.Errorf("-t: %w", err)
	}
	if cfg.Cooloff, err = parseIntervalFlag(*cooloffText, cfg.Cooloff); err != nil {
		return nil, fmt.Errorf("-c: %w", err)
	}
	if cfg.Maximum, err = parseIntervalFlag(*maximumText, cfg.Maximum); err != nil {
		return nil, fmt.Errorf("-m: %w", err)
	}

	return cfg, nil
}

func parseIntervalFlag(text string, def time.Duration) (time.Duration, error) {
	if text == "" {
		return def, nil
	}
	iv, err := ParseInterval(text)
	if err != nil {
		return 0, err
	}
	return iv.Duration(), nil
}

// describe marshals the effective configuration to YAML for a single
// startup diagnostic log record — see SPEC_FULL.md section 7.2. This is
// the one place kitd touches YAML: it never reads a configuration file.
func (c *Config) describe() string {
	out := struct {
		Name           string   `yaml:"name"`
		Command        []string `yaml:"command"`
		Daemonize      bool     `yaml:"daemonize"`
		RestartInitial string   `yaml:"restartInitial"`
		Cooloff        string   `yaml:"cooloff"`
		Maximum        string   `yaml:"maximum"`
		MetricsAddr    string   `yaml:"metricsAddr,omitempty"`
		WatchBinary    bool     `yaml:"watchBinary"`
	}{
		Name:           c.Name,
		Command:        c.Command,
		Daemonize:      c.Daemonize,
		RestartInitial: NewInterval(c.RestartInitial).Format(),
		Cooloff:        NewInterval(c.Cooloff).Format(),
		Maximum:        NewInterval(c.Maximum).Format(),
		MetricsAddr:    c.MetricsAddr,
		WatchBinary:    c.WatchBinary,
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Sprintf("<unmarshalable config: %v>", err)
	}
	return string(b)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
