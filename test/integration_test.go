//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

var (
	testBinary string
	toneWAV    string
)

func TestMain(m *testing.M) {
	testBinary = os.Getenv("TUNESPOT_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "TUNESPOT_TEST_BIN not set; build the binary and point the variable at it")
		os.Exit(1)
	}

	dir, err := os.MkdirTemp("", "tunespot-it")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	toneWAV = filepath.Join(dir, "tone.wav")
	if err := generateToneWAV(toneWAV, 44100, 440, 1.0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func generateToneWAV(path string, sampleRate int, freq, durationS float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(v))
	}

	return os.WriteFile(path, buf, 0644)
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

// fakeShazam answers every upload with body and counts requests.
func fakeShazam(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-RapidAPI-Key") == "" {
			t.Error("request without X-RapidAPI-Key")
		}
		if _, _, err := r.FormFile("upload_file"); err != nil {
			t.Errorf("upload_file: %v", err)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func runTunespot(t *testing.T, stdin string, args ...string) (out, logDir string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir}, args...)
	cmdArgs = append(cmdArgs, "-test", toneWAV)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "RAPIDAPI_KEY=")

	b, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("tunespot exited with error: %v\noutput: %s", err, b)
	}
	return string(b), logDir
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

const matchBody = `{"track":{"title":"Song","subtitle":"Artist","url":"https://example.com/t","images":{"coverart":"https://example.com/c.jpg"}}}`

func TestMatch(t *testing.T) {
	srv, calls := fakeShazam(t, http.StatusOK, matchBody)
	out, logDir := runTunespot(t, cmds("KEY k", "TOGGLE", "SLEEP 400", "TOGGLE", "WAIT", "QUIT"),
		"-endpoint", srv.URL)

	if !strings.Contains(out, "MATCH Song\tArtist\thttps://example.com/t") {
		t.Errorf("no match line in output:\n%s", out)
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1", calls.Load())
	}
	if rec := readLog(t, logDir, "recognitions_log.txt"); !strings.Contains(rec, "Song\tArtist") {
		t.Errorf("recognitions log missing match: %q", rec)
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "recognition", "status=match", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestWAVFormat(t *testing.T) {
	var partType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, fh, err := r.FormFile("upload_file"); err == nil {
			partType.Store(fh.Header.Get("Content-Type"))
		}
		io.WriteString(w, matchBody)
	}))
	defer srv.Close()

	out, _ := runTunespot(t, cmds("KEY k", "TOGGLE", "SLEEP 300", "TOGGLE", "WAIT", "QUIT"),
		"-endpoint", srv.URL, "-format", "wav")
	if !strings.Contains(out, "MATCH Song") {
		t.Errorf("no match line in output:\n%s", out)
	}
	if got, _ := partType.Load().(string); got != "audio/wav" {
		t.Errorf("part content type = %q, want audio/wav", got)
	}
}

func TestNoMatch(t *testing.T) {
	srv, _ := fakeShazam(t, http.StatusOK, `{}`)
	out, _ := runTunespot(t, cmds("KEY k", "TOGGLE", "SLEEP 300", "TOGGLE", "WAIT", "QUIT"),
		"-endpoint", srv.URL)
	if !strings.Contains(out, "NOMATCH") {
		t.Errorf("expected NOMATCH in output:\n%s", out)
	}
}

func TestMissingKey(t *testing.T) {
	srv, calls := fakeShazam(t, http.StatusOK, matchBody)
	out, _ := runTunespot(t, cmds("TOGGLE", "SLEEP 300", "TOGGLE", "WAIT", "QUIT"),
		"-endpoint", srv.URL)
	if !strings.Contains(out, "ERROR API key is missing") {
		t.Errorf("expected missing key error in output:\n%s", out)
	}
	if calls.Load() != 0 {
		t.Errorf("made %d requests without a key", calls.Load())
	}
}

func TestServiceError(t *testing.T) {
	srv, _ := fakeShazam(t, http.StatusForbidden, `{"message":"bad key"}`)
	out, logDir := runTunespot(t, cmds("KEY k", "TOGGLE", "SLEEP 300", "TOGGLE", "WAIT", "QUIT"),
		"-endpoint", srv.URL)
	if !strings.Contains(out, "ERROR Error identifying song") {
		t.Errorf("expected recognition error in output:\n%s", out)
	}
	if diag := readLog(t, logDir, "diagnostics_log.txt"); !strings.Contains(diag, "status=error") {
		t.Error("expected status=error in diagnostics")
	}
}

func TestAutoStop(t *testing.T) {
	srv, _ := fakeShazam(t, http.StatusOK, matchBody)
	out, _ := runTunespot(t, cmds("KEY k", "TOGGLE", "WAIT", "QUIT"),
		"-endpoint", srv.URL, "-max", "300ms")
	if !strings.Contains(out, "MATCH Song") {
		t.Errorf("auto-stopped recording was not recognized:\n%s", out)
	}
}

func TestConnReuse(t *testing.T) {
	srv, calls := fakeShazam(t, http.StatusOK, matchBody)
	_, logDir := runTunespot(t, cmds(
		"KEY k",
		"TOGGLE", "SLEEP 300", "TOGGLE", "WAIT",
		"TOGGLE", "SLEEP 300", "TOGGLE", "WAIT",
		"QUIT"), "-endpoint", srv.URL)
	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2", calls.Load())
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if strings.Count(diag, "status=match") < 2 {
		t.Error("expected 2 recognition entries in diagnostics")
	}
	if !strings.Contains(diag, "conn=reused") {
		t.Error("expected conn=reused in diagnostics")
	}
}
