package spectrum

import (
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Canvas is a logical Width x Height pixel surface rasterised onto a grid of
// terminal cells, two pixel rows per cell using half blocks.
type Canvas struct {
	mu     sync.Mutex
	cols   int
	rows   int
	pixels [][]string // [pixel row][col] hex color, "" when empty
}

func NewCanvas(cols, rows int) *Canvas {
	c := &Canvas{}
	c.Resize(cols, rows)
	return c
}

// Resize changes the cell grid and clears the canvas.
func (c *Canvas) Resize(cols, rows int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cols = max(cols, 1)
	c.rows = max(rows, 1)
	c.pixels = make([][]string, c.rows*2)
	for i := range c.pixels {
		c.pixels[i] = make([]string, c.cols)
	}
}

func (c *Canvas) Size() (float64, float64) { return Width, Height }

func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range c.pixels {
		clear(row)
	}
}

func (c *Canvas) FillRect(x, y, w, h float64, g Gradient) {
	if w <= 0 || h <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sx := float64(c.cols) / Width
	sy := float64(len(c.pixels)) / Height
	x0 := max(int(math.Floor(x*sx)), 0)
	x1 := min(int(math.Ceil((x+w)*sx)), c.cols)
	y0 := max(int(math.Floor(y*sy)), 0)
	y1 := min(int(math.Ceil((y+h)*sy)), len(c.pixels))

	for py := y0; py < y1; py++ {
		color := g.At(float64(py) / float64(max(len(c.pixels)-1, 1)))
		for px := x0; px < x1; px++ {
			c.pixels[py][px] = color
		}
	}
}

// Render returns the canvas as rows of styled half-block glyphs.
func (c *Canvas) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	for r := 0; r < c.rows; r++ {
		top, bottom := c.pixels[2*r], c.pixels[2*r+1]
		for col := 0; col < c.cols; col++ {
			sb.WriteString(cell(top[col], bottom[col]))
		}
		if r < c.rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func cell(top, bottom string) string {
	switch {
	case top != "" && bottom != "":
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color(top)).
			Background(lipgloss.Color(bottom)).
			Render("▀")
	case top != "":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(top)).Render("▀")
	case bottom != "":
		return lipgloss.NewStyle().Foreground(lipgloss.Color(bottom)).Render("▄")
	}
	return " "
}

// At returns the gradient color at t in [0, 1], top to bottom.
func (g Gradient) At(t float64) string {
	a, err := colorful.Hex(g.Top)
	if err != nil {
		return g.Bottom
	}
	b, err := colorful.Hex(g.Bottom)
	if err != nil {
		return g.Top
	}
	t = math.Max(0, math.Min(1, t))
	return a.BlendLab(b, t).Clamped().Hex()
}
