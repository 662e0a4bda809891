package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"vescprobe/host/config"
	"vescprobe/host/device"
	"vescprobe/host/logging"
	"vescprobe/protocol"
)

var (
	configPath = flag.String("config", "", "TOML config file")
	kind       = flag.String("transport", config.KindSerial, "Transport: serial, tcp or sim")
	devicePath = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud       = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	driver     = flag.String("driver", "tarm", "Serial driver: tarm or bugst")
	host       = flag.String("host", "192.168.5.107", "TCP bridge host")
	port       = flag.Int("port", 65102, "TCP bridge port")
	timeout    = flag.Duration("timeout", 2*time.Second, "Reply timeout per command")
	logLevel   = flag.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	noColor    = flag.Bool("no-color", false, "Disable colored log output")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "vesc-probe %s - packet interface probe\n\n", protocol.Version)
	fmt.Fprintf(out, "Usage: vesc-probe [flags] <command> [args...]\n\n")
	printHelp(out)
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger, err := logging.Init("vesc-probe", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if len(args) == 0 {
		flag.Usage()
		return 2
	}

	d, err := device.Open(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer d.Close()

	if args[0] == "shell" {
		if err := shell(d, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := runCommand(d, os.Stdout, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

// loadConfig reads the config file if given, then applies the flags set
// on the command line
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return config.Config{}, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = strings.ToLower(*kind)
		case "device":
			cfg.Serial.Device = *devicePath
		case "baud":
			cfg.Serial.Baud = *baud
		case "driver":
			cfg.Serial.Driver = strings.ToLower(*driver)
		case "host":
			cfg.TCP.Host = *host
		case "port":
			cfg.TCP.Port = *port
		case "timeout":
			cfg.Timeout = *timeout
		case "log-level":
			cfg.Log.Level = *logLevel
		case "no-color":
			cfg.Log.NoColor = *noColor
		}
	})

	return cfg, cfg.Validate()
}

func historyPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".vescprobe_history")
}

func shell(d *device.Device, logger zerolog.Logger) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) (c []string) {
		for _, name := range commandNames() {
			if strings.HasPrefix(name, strings.ToLower(input)) {
				c = append(c, name)
			}
		}
		return
	})

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if history == "" {
			return
		}
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("Connected to %s. Type 'help' for commands, Ctrl-D to quit.\n", d.Endpoint())
	for {
		input, err := line.Prompt("vesc> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		tokens, err := shlex.Split(input)
		if err != nil {
			fmt.Printf("parse error: %v\n", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}

		switch tokens[0] {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printHelp(os.Stdout)
			continue
		}

		if err := runCommand(d, os.Stdout, tokens[0], tokens[1:]); err != nil {
			fmt.Printf("error: %v\n", err)
			logger.Debug().Err(err).Str("command", tokens[0]).Msg("command failed")
		}
	}
}
