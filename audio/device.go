package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errPickerAborted = errors.New("device selection aborted")

// FindDevice looks a device up by exact name.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no device named %q", ErrDeviceUnavailable, name)
}

type picker struct {
	devices []DeviceInfo
	cursor  int
}

// key applies one read from the terminal. It reports whether the choice is
// final and whether the user aborted.
func (p *picker) key(buf []byte) (done, aborted bool) {
	if len(buf) == 1 {
		switch buf[0] {
		case '\r', '\n':
			return true, false
		case 3, 'q': // Ctrl+C
			return false, true
		case 'j':
			p.down()
		case 'k':
			p.up()
		}
		return false, false
	}
	if len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' {
		switch buf[2] {
		case 'A':
			p.up()
		case 'B':
			p.down()
		}
	}
	return false, false
}

func (p *picker) up() {
	if p.cursor > 0 {
		p.cursor--
	}
}

func (p *picker) down() {
	if p.cursor < len(p.devices)-1 {
		p.cursor++
	}
}

func (p *picker) render(w io.Writer) {
	var b strings.Builder
	b.WriteString("\r\x1b[J")
	b.WriteString("Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[headset mic, lower quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(&b, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(&b, "    %s%s\r\n", d.Name, tag)
		}
	}
	io.WriteString(w, b.String())
}

// SelectDevice presents an interactive picker on the terminal. With a single
// device it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &picker{devices: devices}
	p.render(os.Stdout)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		done, aborted := p.key(buf[:n])
		if aborted {
			fmt.Print("\r\n")
			return nil, errPickerAborted
		}
		if done {
			fmt.Print("\r\n")
			return &p.devices[p.cursor], nil
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		p.render(os.Stdout)
	}
}
