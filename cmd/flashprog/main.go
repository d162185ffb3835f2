// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Command flashprog runs a gang-programming job against up to four targets.
//
//	flashprog -job board.toml -modes erase,program,verify
//	flashprog -detect
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-flashprog"
	"github.com/ZaparooProject/go-flashprog/detection"
	_ "github.com/ZaparooProject/go-flashprog/detection/adapter"
	"github.com/ZaparooProject/go-flashprog/job"
	"github.com/ZaparooProject/go-flashprog/profile"
	"github.com/ZaparooProject/go-flashprog/transport/adapter"
	"github.com/ZaparooProject/go-flashprog/transport/gpio"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type config struct {
	devicePath string
	transport  string
	profile    string
	jobPath    string
	readOut    string
	logDir     string
	gpioPins   string
	policy     string
	modes      []flashprog.OperationMode
	retries    int
	debug      bool
	detect     bool
	list       bool
}

func parseConfig(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("flashprog", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &config{}
	var modes string
	fs.StringVar(&cfg.devicePath, "device", "", "Adapter serial port (auto-detect if empty)")
	fs.StringVar(&cfg.transport, "transport", "adapter", "Transport: adapter or gpio")
	fs.StringVar(&cfg.gpioPins, "gpio", "",
		"GPIO pins for -transport gpio, e.g. clock=GPIO11,data=GPIO10,control=GPIO8,in=GPIO9:GPIO5,enable=GPIO6:GPIO13")
	fs.StringVar(&cfg.profile, "profile", "", "Built-in profile name or profile YAML path (overrides the job)")
	fs.StringVar(&cfg.jobPath, "job", "", "Job TOML file")
	fs.StringVar(&modes, "modes", "erase,blankcheck,program,verify", "Comma-separated operation modes to run in order")
	fs.StringVar(&cfg.policy, "policy", "disable", "On channel faults: disable (continue with the rest) or failfast")
	fs.StringVar(&cfg.readOut, "out", "", "File to write the image captured by the read mode")
	fs.StringVar(&cfg.logDir, "log-dir", "", "Directory for the rotating session log (disabled if empty)")
	fs.IntVar(&cfg.retries, "retries", flashprog.DefaultConnectionRetries, "Attempts to open the adapter")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.BoolVar(&cfg.detect, "detect", false, "List detected adapters and exit")
	fs.BoolVar(&cfg.list, "list-profiles", false, "List built-in profiles and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.detect || cfg.list {
		return cfg, nil
	}

	if cfg.jobPath == "" {
		return nil, errors.New("-job is required")
	}
	for _, name := range strings.Split(modes, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		mode, err := flashprog.ParseOperationMode(name)
		if err != nil {
			return nil, err
		}
		cfg.modes = append(cfg.modes, mode)
	}
	if len(cfg.modes) == 0 {
		return nil, errors.New("-modes selects nothing")
	}
	if cfg.policy != "disable" && cfg.policy != "failfast" {
		return nil, fmt.Errorf("unknown policy %q", cfg.policy)
	}
	if cfg.transport != "adapter" && cfg.transport != "gpio" {
		return nil, fmt.Errorf("unknown transport %q", cfg.transport)
	}
	return cfg, nil
}

// parseGPIO turns "clock=GPIO11,in=GPIO9:GPIO5,..." into a gpio.Config.
func parseGPIO(arg string) (gpio.Config, error) {
	var cfg gpio.Config
	for _, part := range strings.Split(arg, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return cfg, fmt.Errorf("gpio pin %q is not key=value", part)
		}
		switch key {
		case "clock":
			cfg.Clock = value
		case "data":
			cfg.DataOut = value
		case "control":
			cfg.Control = value
		case "in":
			cfg.DataIn = strings.Split(value, ":")
		case "enable":
			cfg.Enable = strings.Split(value, ":")
		case "half":
			d, err := time.ParseDuration(value)
			if err != nil {
				return cfg, fmt.Errorf("gpio half period: %w", err)
			}
			cfg.HalfPeriod = d
		default:
			return cfg, fmt.Errorf("unknown gpio pin role %q", key)
		}
	}
	return cfg, nil
}

// openTransport is replaced in tests.
var openTransport = func(ctx context.Context, cfg *config, _ *flashprog.Profile, latch *flashprog.AbortLatch) (flashprog.Transport, error) {
	if cfg.transport == "gpio" {
		pins, err := parseGPIO(cfg.gpioPins)
		if err != nil {
			return nil, err
		}
		t, err := gpio.Open(pins)
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	opts := []flashprog.ConnectOption{
		flashprog.WithConnectionRetries(max(cfg.retries, 1)),
		flashprog.WithTransportFactory(func(path string) (flashprog.Transport, error) {
			return adapter.New(path, adapter.WithAbortLatch(latch))
		}),
	}
	if cfg.devicePath == "" {
		opts = append(opts, flashprog.WithAutoDetection())
	}
	return flashprog.Connect(ctx, cfg.devicePath, opts...)
}

func loadProfile(name string) (*flashprog.Profile, error) {
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		return profile.Load(name)
	}
	return profile.Builtin(name)
}

func newLogger(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func listDevices(ctx context.Context, out io.Writer) error {
	opts := detection.DefaultOptions()
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return err
	}
	for _, d := range devices {
		_, _ = fmt.Fprintln(out, d)
	}
	return nil
}

func run(ctx context.Context, cfg *config, latch *flashprog.AbortLatch, logger zerolog.Logger) error {
	jf, err := job.Load(cfg.jobPath)
	if err != nil {
		return err
	}
	profileName := jf.Profile
	if cfg.profile != "" {
		profileName = cfg.profile
	}
	if profileName == "" {
		return errors.New("no profile: set -profile or profile in the job file")
	}
	p, err := loadProfile(profileName)
	if err != nil {
		return err
	}

	opts := []flashprog.Option{
		flashprog.WithJob(jf.Job),
		flashprog.WithAbortSignal(latch),
		flashprog.WithEventSink(flashprog.NewLogEventSink(logger)),
		flashprog.WithProgress(func(pr flashprog.Progress) {
			logger.Debug().Str("mode", pr.Mode.String()).Int("sector", pr.Sector).
				Int("total", pr.Total).Str("channels", pr.Active.String()).Msg("sector done")
		}),
	}
	if cfg.policy == "failfast" {
		opts = append(opts, flashprog.WithPolicy(flashprog.FailFast))
	} else {
		opts = append(opts, flashprog.WithPolicy(flashprog.DisableFailing))
	}
	if len(jf.Segments) > 0 {
		im, err := jf.Image(p.Erased)
		if err != nil {
			return err
		}
		opts = append(opts, flashprog.WithImage(im))
	}

	t, err := openTransport(ctx, cfg, p, latch)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close transport")
		}
	}()

	session, err := flashprog.NewSession(t, p, opts...)
	if err != nil {
		return err
	}
	for _, mode := range cfg.modes {
		if err := session.Run(ctx, mode); err != nil {
			return fmt.Errorf("%s: %w", mode, err)
		}
		if mode == flashprog.ModeRead && cfg.readOut != "" {
			if err := os.WriteFile(cfg.readOut, session.ReadBack().Data, 0o600); err != nil {
				return fmt.Errorf("write read-back image: %w", err)
			}
		}
	}

	channels := session.Channels()
	if failed := channels.FailedMask(); !failed.Empty() {
		logger.Warn().Str("channels", failed.String()).Msg("finished with disabled channels")
		return fmt.Errorf("channels %s failed", failed)
	}
	logger.Info().Str("channels", session.ActiveMask().String()).Msg("job complete")
	return nil
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if cfg.debug {
		flashprog.SetDebugEnabled(true)
	}

	if cfg.list {
		for _, name := range profile.BuiltinNames() {
			_, _ = fmt.Fprintln(stdout, name)
		}
		return exitOK
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The latch stops the session at the next sector boundary; cancelling
	// the context stops waits that are still in progress.
	latch := &flashprog.AbortLatch{}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			latch.Raise("host abort: " + sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.detect {
		if err := listDevices(ctx, stdout); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		return exitOK
	}

	if cfg.logDir != "" {
		path, err := flashprog.InitSessionLog(cfg.logDir)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		defer func() { _ = flashprog.CloseSessionLog() }()
		_, _ = fmt.Fprintf(stderr, "Session log: %s\n", path)
	}

	logger := newLogger(stderr, cfg.debug)
	if err := run(ctx, cfg, latch, logger); err != nil {
		var traceable *flashprog.TraceableError
		if cfg.debug && errors.As(err, &traceable) {
			_, _ = fmt.Fprintln(stderr, traceable.FormatTrace())
		}
		logger.Error().Err(err).Msg("job failed")
		return exitFailure
	}
	return exitOK
}
