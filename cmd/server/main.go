// Package main provides the entry point for the Civitai gallery server.
// The server proxies the Civitai content API with a locally held key, caches model files and
// thumbnails, and hosts the loader endpoints. The same binary also runs the terminal gallery.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/router-for-me/CivitaiGallery/internal/buildinfo"
	"github.com/router-for-me/CivitaiGallery/internal/cmd"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/logging"
	"github.com/router-for-me/CivitaiGallery/internal/misc"
	"github.com/router-for-me/CivitaiGallery/internal/tui"
	"github.com/router-for-me/CivitaiGallery/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

const (
	memoryLogCapacity = 2000
	tuiLogBuffer      = 256
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

// main parses command-line flags, loads configuration and starts the server, the terminal
// gallery or a one-shot download.
func main() {
	var configPath string
	var tuiMode bool
	var standalone bool
	var downloadVersion string
	var downloadType string
	var showVersion bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&tuiMode, "tui", false, "Start the terminal gallery")
	flag.BoolVar(&standalone, "standalone", false, "In TUI mode, start an embedded local server")
	flag.StringVar(&downloadVersion, "download", "", "Download a model version into the cache and exit")
	flag.StringVar(&downloadType, "type", "checkpoint", "Model type for -download: checkpoint, lora or controlnet")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.Summary())
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	if created, errEnsure := misc.EnsureConfigFile(filepath.Join(wd, "config.example.yaml"), configFilePath); errEnsure != nil {
		log.WithError(errEnsure).Warn("failed to create config file from template")
	} else if created {
		log.Infof("created %s from config.example.yaml", configFilePath)
	}

	cfg, err := config.LoadConfigOptional(configFilePath, configPath == "")
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}
	config.ApplyEnvOverrides(cfg)

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	util.SetLogLevel(cfg)

	memLogs := logging.NewMemoryHook(memoryLogCapacity)
	log.AddHook(memLogs)

	switch {
	case downloadVersion != "":
		if errDownload := cmd.DoDownload(cfg, downloadVersion, downloadType); errDownload != nil {
			log.Errorf("download failed: %v", errDownload)
			if cmd.IsUsageError(errDownload) {
				os.Exit(2)
			}
			os.Exit(1)
		}
	case tuiMode && standalone:
		runStandaloneTUI(cfg, configFilePath, memLogs)
	case tuiMode:
		// The server must already be running.
		if errRun := tui.Run(cfg, nil, os.Stdout); errRun != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", errRun)
		}
	default:
		log.Info(buildinfo.Summary())
		cmd.StartService(cfg, configFilePath, memLogs)
	}
}

// runStandaloneTUI starts an embedded server, silences terminal logging and hands the screen
// to the terminal gallery. Logs are shown in its Logs tab.
func runStandaloneTUI(cfg *config.Config, configFilePath string, memLogs *logging.MemoryHook) {
	hook := tui.NewLogHook(memLogs, tuiLogBuffer)
	defer hook.Close()

	origStdout := os.Stdout
	origStderr := os.Stderr
	logging.SetConsoleOutput(io.Discard)

	devNull, errOpenDevNull := os.Open(os.DevNull)
	if errOpenDevNull == nil {
		os.Stdout = devNull
		os.Stderr = devNull
	}

	restoreIO := func() {
		os.Stdout = origStdout
		os.Stderr = origStderr
		logging.SetConsoleOutput(origStdout)
		if devNull != nil {
			_ = devNull.Close()
		}
	}

	cancel, done := cmd.StartServiceBackground(cfg, configFilePath, memLogs)

	client := tui.NewClient(cfg.Port)
	ready := false
	backoff := 100 * time.Millisecond
	for i := 0; i < 30; i++ {
		if _, errGetConfig := client.GetConfig(); errGetConfig == nil {
			ready = true
			break
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff = time.Duration(float64(backoff) * 1.5)
		}
	}

	if !ready {
		restoreIO()
		cancel()
		<-done
		fmt.Fprintf(os.Stderr, "TUI error: embedded server is not ready\n")
		return
	}

	errRun := tui.Run(cfg, hook, origStdout)
	restoreIO()
	if errRun != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", errRun)
	}

	cancel()
	<-done
}
