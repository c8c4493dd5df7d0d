package display

import (
	"fmt"
	"io"
	"time"

	"multi-complete/internal/llm"

	"github.com/fatih/color"
)

const (
	DefaultInterval = 500 * time.Millisecond

	clearScreen = "\033[H\033[2J"
)

// Board accumulates streamed chunks into one slot per response and redraws
// the whole set at most once per interval.
type Board struct {
	out      io.Writer
	slots    []string
	interval time.Duration
	clear    bool
	now      func() time.Time
	last     time.Time
}

type Option func(*Board)

func WithInterval(d time.Duration) Option {
	return func(b *Board) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithClear controls whether intermediate redraws happen. Without it only
// Flush writes anything.
func WithClear(enabled bool) Option {
	return func(b *Board) {
		b.clear = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBoard(out io.Writer, n int, opts ...Option) *Board {
	if n < 1 {
		n = 1
	}
	b := &Board{
		out:      out,
		slots:    make([]string, n),
		interval: DefaultInterval,
		clear:    true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.last = b.now()
	return b
}

// Append adds each chunk to its slot, growing the board for unseen indexes,
// and redraws when more than the interval has passed since the last draw.
// It matches llm.StreamHandler.
func (b *Board) Append(batch []llm.Chunk) error {
	for _, chunk := range batch {
		if chunk.Index < 0 {
			continue
		}
		for chunk.Index >= len(b.slots) {
			b.slots = append(b.slots, "")
		}
		b.slots[chunk.Index] += chunk.Delta
	}
	if !b.clear {
		return nil
	}
	now := b.now()
	if now.Sub(b.last) <= b.interval {
		return nil
	}
	b.last = now
	return b.draw()
}

// Flush draws the final state unconditionally.
func (b *Board) Flush() error {
	b.last = b.now()
	return b.draw()
}

func (b *Board) Contents() []string {
	out := make([]string, len(b.slots))
	copy(out, b.slots)
	return out
}

func (b *Board) draw() error {
	if b.clear {
		if _, err := io.WriteString(b.out, clearScreen); err != nil {
			return err
		}
	}
	return Render(b.out, b.slots)
}

// Render prints completed texts. A single text is printed bare; several are
// each printed under a numbered header.
func Render(out io.Writer, texts []string) error {
	if len(texts) == 1 {
		_, err := fmt.Fprintln(out, texts[0])
		return err
	}
	header := color.New(color.Bold)
	for i, text := range texts {
		if _, err := fmt.Fprintln(out, header.Sprintf("Response %d:", i+1)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s\n\n", text); err != nil {
			return err
		}
	}
	return nil
}
