package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yonasBSD/kitd"
)

func main() {
	os.Exit(run())
}

func run() int {
	progName := filepath.Base(os.Args[0])

	cfg, err := kitd.ParseConfig(progName, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}

	if cfg.Daemonize {
		if err := kitd.Daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
			return 1
		}
	}

	logSink, err := kitd.NewLogSink(cfg.Name, cfg.Daemonize, kitd.DefaultLogPath(cfg.Name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	defer logSink.Close()

	cm, err := kitd.NewChildManager()
	if err != nil {
		logSink.Error("child manager: %v", err)
		return 1
	}

	backoff := kitd.NewBackoffState(cfg.RestartInitial, cfg.Cooloff, cfg.Maximum)
	inbox := kitd.NewSignalInbox()
	defer inbox.Stop()

	var metrics *kitd.Metrics
	if cfg.MetricsAddr != "" {
		metrics = kitd.NewMetrics()
	}

	var watcher *kitd.BinaryWatcher
	if cfg.WatchBinary {
		watcher, err = kitd.NewBinaryWatcher(cfg.Command[0])
		if err != nil {
			logSink.Notice("binary watch disabled: %v", err)
			watcher = nil
		}
	}

	sup := kitd.NewSupervisor(cfg, cm, backoff, inbox, logSink, metrics, watcher)
	return sup.Run(os.Stdin)
}
