package stream

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Display renders answer fragments to a terminal
type Display struct {
	writer       io.Writer
	buffer       strings.Builder
	mu           sync.Mutex
	fragments    int
	startTime    time.Time
	firstByte    time.Duration
	enableColors bool
}

// NewDisplay creates a display writing to writer
func NewDisplay(writer io.Writer, enableColors bool) *Display {
	return &Display{
		writer:       writer,
		enableColors: enableColors,
		startTime:    time.Now(),
	}
}

// Write prints one fragment as it arrives
func (d *Display) Write(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fragments == 0 {
		d.firstByte = time.Since(d.startTime)
	}
	d.buffer.WriteString(text)
	d.fragments++

	_, err := fmt.Fprint(d.writer, text)
	return err
}

// Render drains fragments onto the display, showing a spinner until the first
// one arrives. It returns the full answer, or the terminal error.
func (d *Display) Render(ctx context.Context, fragments <-chan Fragment) (string, error) {
	spinner := NewProgressIndicator(d.writer, "Kirikou is thinking...", d.enableColors)
	spinner.Start()
	stopped := false
	stop := func() {
		if !stopped {
			spinner.Stop()
			stopped = true
		}
	}
	defer stop()

	for {
		select {
		case f, ok := <-fragments:
			if !ok {
				stop()
				return d.Content(), d.Finalize()
			}
			stop()
			if f.Err != nil {
				return d.Content(), f.Err
			}
			if err := d.Write(f.Text); err != nil {
				return d.Content(), err
			}
		case <-ctx.Done():
			return d.Content(), ctx.Err()
		}
	}
}

// Finalize ends the answer line and prints a stats footer
func (d *Display) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.buffer.Len() > 0 {
		fmt.Fprintln(d.writer)
	}

	duration := time.Since(d.startTime)
	var err error
	if d.enableColors {
		_, err = fmt.Fprintf(d.writer, "\n%s\n", Colorize(fmt.Sprintf("⏱ %.2fs | first token %.2fs | 📝 %d fragments",
			duration.Seconds(), d.firstByte.Seconds(), d.fragments), ColorGray, true))
	} else {
		_, err = fmt.Fprintf(d.writer, "\n[%.2fs | first token %.2fs | %d fragments]\n",
			duration.Seconds(), d.firstByte.Seconds(), d.fragments)
	}
	return err
}

// Content returns the text written so far
func (d *Display) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer.String()
}

// ColorCode represents ANSI color codes
type ColorCode string

const (
	ColorReset ColorCode = "\033[0m"
	ColorRed   ColorCode = "\033[31m"
	ColorGreen ColorCode = "\033[32m"
	ColorCyan  ColorCode = "\033[36m"
	ColorGray  ColorCode = "\033[90m"
	ColorBold  ColorCode = "\033[1m"
)

// Colorize wraps text in color codes if colors are enabled
func Colorize(text string, color ColorCode, enabled bool) string {
	if !enabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

// ProgressIndicator shows a spinner while waiting for the first token
type ProgressIndicator struct {
	writer   io.Writer
	message  string
	frames   []string
	animate  bool
	current  int
	stopChan chan struct{}
	done     chan struct{}
	mu       sync.Mutex
}

// NewProgressIndicator creates a spinner. With animate false it stays silent,
// which keeps piped output clean.
func NewProgressIndicator(writer io.Writer, message string, animate bool) *ProgressIndicator {
	return &ProgressIndicator{
		writer:   writer,
		message:  message,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		animate:  animate,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the animation
func (p *ProgressIndicator) Start() {
	go func() {
		defer close(p.done)
		if !p.animate {
			<-p.stopChan
			return
		}

		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				frame := p.frames[p.current%len(p.frames)]
				fmt.Fprintf(p.writer, "\r%s %s", frame, p.message)
				p.current++
				p.mu.Unlock()
			case <-p.stopChan:
				fmt.Fprintf(p.writer, "\r\033[K") // Clear line
				return
			}
		}
	}()
}

// Stop stops the animation and waits for the line to be cleared
func (p *ProgressIndicator) Stop() {
	close(p.stopChan)
	<-p.done
}
