package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"tunespot/audio"
	"tunespot/clipboard"
	"tunespot/encoder"
	"tunespot/recognizer"
	"tunespot/recorder"
)

// Options configure the recognition check.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	Credential string
}

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	restore := saveTerminal()
	defer restore()
	setupInterruptHandler(restore)

	fmt.Println("tunespot doctor - interactive system diagnostics")
	fmt.Println("================================================")

	reader := bufio.NewReader(os.Stdin)
	allPass := true

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return 1
	}
	defer ctx.Close()

	device, ok := checkMicrophone(ctx, reader)
	if !ok {
		allPass = false
	}
	if allPass && !checkRecognition(ctx, device, reader, opts) {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkMicrophone(ctx audio.Context, reader *bufio.Reader) (*audio.DeviceInfo, bool) {
	fmt.Println()
	fmt.Println("[1/3] Microphone")

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return nil, false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return nil, false
	}

	device, err := chooseDevice(devices, reader)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return nil, false
	}
	if audio.IsBluetooth(device.Name) {
		fmt.Println("  Note: bluetooth microphones often capture at reduced quality")
	}

	fmt.Print("Press Enter and make some noise for 3 seconds...")
	reader.ReadString('\n')

	clip, samples, err := capture(ctx, device, 3*time.Second)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return device, false
	}
	peak, rms := Level(samples)
	fmt.Printf("  Captured %.1fs, %.1f KB %s, peak %.1f dBFS, rms %.1f dBFS\n",
		clip.Duration().Seconds(), float64(len(clip.Data))/1024, clip.MediaType, peak, rms)

	if len(samples) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return device, false
	}
	if peak < -60 {
		fmt.Println("  FAIL: input is silent (muted microphone or wrong device?)")
		return device, false
	}
	fmt.Println("  PASS: microphone delivers audio")
	return device, true
}

func chooseDevice(devices []audio.DeviceInfo, reader *bufio.Reader) (*audio.DeviceInfo, error) {
	if len(devices) == 1 {
		fmt.Printf("Using device: %s\n", devices[0].Name)
		return &devices[0], nil
	}
	fmt.Println("Select input device:")
	for i, d := range devices {
		fmt.Printf("  %d. %s\n", i+1, d.Name)
	}
	fmt.Printf("Choice [1-%d]: ", len(devices))
	line, _ := reader.ReadString('\n')
	idx, err := parseChoice(line, len(devices))
	if err != nil {
		return nil, err
	}
	fmt.Printf("Selected: %s\n", devices[idx].Name)
	return &devices[idx], nil
}

// parseChoice turns a 1-based menu answer into an index. Empty picks the first.
func parseChoice(line string, n int) (int, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}
	var idx int
	if _, err := fmt.Sscanf(line, "%d", &idx); err != nil || idx < 1 || idx > n {
		return 0, fmt.Errorf("invalid choice %q", line)
	}
	return idx - 1, nil
}

func checkRecognition(ctx audio.Context, device *audio.DeviceInfo, reader *bufio.Reader, opts Options) bool {
	fmt.Println()
	fmt.Println("[2/3] Song recognition")

	key := opts.Credential
	if key == "" {
		fmt.Print("Enter RapidAPI key: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fmt.Printf("  FAIL: reading key: %v\n", err)
			return false
		}
		key = strings.TrimSpace(string(b))
	}
	if key == "" {
		fmt.Println("  FAIL: API key required")
		return false
	}

	fmt.Print("Play some music near the microphone and press Enter...")
	reader.ReadString('\n')

	clip, _, err := capture(ctx, device, 8*time.Second)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	fmt.Printf("  Recorded %.1f KB, identifying...\n", float64(len(clip.Data))/1024)

	rec := recognizer.NewShazam(opts.Endpoint, opts.Timeout)
	res, err := rec.Identify(context.Background(), clip, key)
	if m := recognizer.MetricsOf(res, err); m != nil {
		fmt.Printf("  dns %s, tls %s, ttfb %s, total %s\n",
			m.DNS.Round(time.Millisecond), m.TLS.Round(time.Millisecond),
			m.TTFB.Round(time.Millisecond), m.Total.Round(time.Millisecond))
	}
	var failed *recognizer.FailedError
	switch {
	case errors.As(err, &failed) && failed.Status == 401, errors.As(err, &failed) && failed.Status == 403:
		fmt.Printf("  FAIL: key rejected (%d)\n", failed.Status)
		return false
	case err != nil:
		fmt.Printf("  FAIL: %v\n", err)
		return false
	case !res.Matched:
		fmt.Println("  PASS: service reachable (no match for this clip)")
		return true
	}
	fmt.Printf("  PASS: %s by %s\n", res.Title, res.Subtitle)
	return true
}

func checkClipboard() bool {
	fmt.Println()
	fmt.Println("[3/3] Clipboard")

	if err := clipboard.Verify(); err != nil {
		fmt.Printf("  FAIL: clipboard %v\n", err)
		return false
	}
	fmt.Println("  PASS: clipboard write/read verified")
	return true
}

// capture records for d through a recorder and returns the clip along with
// the raw samples seen by a stream tap.
func capture(ctx audio.Context, device *audio.DeviceInfo, d time.Duration) (audio.Clip, []int16, error) {
	rec, err := recorder.New(ctx, device, encoder.FormatFLAC)
	if err != nil {
		return audio.Clip{}, nil, err
	}
	sess, err := rec.Start()
	if err != nil {
		return audio.Clip{}, nil, err
	}

	var mu sync.Mutex
	var samples []int16
	sess.Stream().Attach(func(s []int16) {
		mu.Lock()
		samples = append(samples, s...)
		mu.Unlock()
	})

	fmt.Print("  Recording")
	deadline := time.After(d)
	ticker := time.NewTicker(500 * time.Millisecond)
loop:
	for {
		select {
		case <-ticker.C:
			fmt.Print(".")
		case <-deadline:
			break loop
		}
	}
	ticker.Stop()
	fmt.Println(" done")

	rec.Stop()
	clip := <-sess.Ready()

	mu.Lock()
	defer mu.Unlock()
	return clip, samples, nil
}

// Level reports peak and RMS of samples in dBFS. Silence is -Inf.
func Level(samples []int16) (peak, rms float64) {
	if len(samples) == 0 {
		return math.Inf(-1), math.Inf(-1)
	}
	var maxAbs, sum float64
	for _, s := range samples {
		v := math.Abs(float64(s)) / 32768
		maxAbs = math.Max(maxAbs, v)
		sum += v * v
	}
	return 20 * math.Log10(maxAbs), 20 * math.Log10(math.Sqrt(sum/float64(len(samples))))
}

func saveTerminal() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	var once sync.Once
	return func() { once.Do(func() { term.Restore(fd, state) }) }
}

func setupInterruptHandler(restore func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		restore()
		fmt.Println("\nInterrupted")
		os.Exit(1)
	}()
}
