package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tunespot/audio"
	"tunespot/beep"
	"tunespot/controller"
	"tunespot/doctor"
	"tunespot/encoder"
	"tunespot/log"
	"tunespot/recognizer"
	"tunespot/recorder"
	"tunespot/shutdown"
	"tunespot/spectrum"
)

var version = "dev"

// credentialEnv may hold the RapidAPI key so it need not be typed in.
const credentialEnv = "RAPIDAPI_KEY"

type options struct {
	device   string
	setup    bool
	format   string
	max      time.Duration
	timeout  time.Duration
	endpoint string
	logPath  string
	noBeep   bool
	version  bool
	doctor   bool
	test     bool
	crash    bool
	args     []string
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.device, "device", "", "Use named microphone device")
	fs.BoolVar(&o.setup, "setup", false, "Select microphone device (otherwise uses system default)")
	fs.StringVar(&o.format, "format", encoder.FormatFLAC, "Clip format: flac or wav")
	fs.DurationVar(&o.max, "max", controller.DefaultMaxDuration, "Stop recording automatically after this long (0 = never)")
	fs.DurationVar(&o.timeout, "timeout", recognizer.DefaultTimeout, "Recognition request timeout")
	fs.StringVar(&o.endpoint, "endpoint", recognizer.DefaultEndpoint, "Recognition endpoint URL")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.BoolVar(&o.noBeep, "nobeep", false, "Disable audio cues")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.BoolVar(&o.test, "test", false, "Test mode (headless, stdin-driven)")
	fs.BoolVar(&o.crash, "crash", false, "Trigger synthetic panic for testing crash logging")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.args = fs.Args()

	switch o.format {
	case encoder.FormatFLAC, encoder.FormatWAV:
	default:
		return o, fmt.Errorf("unknown format %q (use flac or wav)", o.format)
	}
	if o.max < 0 {
		return o, fmt.Errorf("-max must not be negative")
	}
	if o.timeout <= 0 {
		return o, fmt.Errorf("-timeout must be positive")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logPath, err := log.ResolveDir(opts.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if opts.crash {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}
	if opts.version {
		fmt.Printf("tunespot %s\n", version)
		return
	}

	credential := strings.TrimSpace(os.Getenv(credentialEnv))

	if opts.doctor {
		os.Exit(doctor.Run(doctor.Options{
			Endpoint:   opts.endpoint,
			Timeout:    opts.timeout,
			Credential: credential,
		}))
	}

	if opts.noBeep {
		beep.Disable()
	}

	if opts.test {
		if len(opts.args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: tunespot -test <wav-file>")
			os.Exit(1)
		}
		os.Exit(runTestMode(opts, opts.args[0], credential))
	}

	os.Exit(run(opts, credential))
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), log.CrashFile)
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func run(opts options, credential string) int {
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	actx, err := audio.NewContext()
	if err != nil {
		// Keep the UI up; every recording attempt will report the error.
		log.Errorf("audio init failed: %v", err)
		actx = audio.Unavailable(err)
	}
	defer actx.Close()

	device, err := resolveDevice(actx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	rec, err := recorder.New(actx, device, opts.format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rec.Close()

	recog := recognizer.NewShazam(opts.endpoint, opts.timeout)
	beep.Init()
	log.SessionStart(recog.Name(), opts.format, deviceName(device))

	canvas := spectrum.NewCanvas(maxCanvasCols, maxCanvasCols/6)
	vis := spectrum.NewVisualizer(spectrum.NewFFTContext, canvas, spectrum.TimerClock{Interval: 50 * time.Millisecond})
	defer vis.Close()

	var stats sessionStats
	ui := &programSink{}
	sinks := fanout{newVisualizerSink(vis), newCueSink(), stats.sink(), ui}
	ctrl := controller.New(rec, recog, sinks, controller.Config{
		MaxDuration: opts.max,
		Credential:  credential,
	})

	model := newTUIModel(ctrl, canvas, ctrl.Snapshot(), deviceLineText(device))
	p := tea.NewProgram(model, tea.WithAltScreen())
	ui.p.Store(p)
	vis.OnFrame(func() { p.Send(frameMsg{}) })

	hook := shutdown.Watch(func() {
		log.Info("termination signal received")
		p.Quit()
	})
	defer hook.Stop()

	_, runErr := p.Run()

	ctrl.Close()
	recordings, matches := stats.counts()
	log.SessionEnd(recordings, matches)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

func resolveDevice(ctx audio.Context, opts options) (*audio.DeviceInfo, error) {
	switch {
	case opts.device != "":
		return audio.FindDevice(ctx, opts.device)
	case opts.setup:
		return audio.SelectDevice(ctx)
	}
	return nil, nil
}

func deviceName(dev *audio.DeviceInfo) string {
	if dev == nil {
		return "default"
	}
	return dev.Name
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}
