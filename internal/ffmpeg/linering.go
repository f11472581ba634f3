package ffmpeg

import (
	"bytes"
	"sync"
)

// LineRing keeps the last N complete lines written to it. It implements
// io.Writer so it can be attached directly to a command's stderr.
type LineRing struct {
	mu      sync.Mutex
	lines   []string
	head    int
	count   int
	partial []byte
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Write splits p on newlines. A trailing fragment is buffered until the next
// newline or until Lines is called.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := p
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			r.partial = append(r.partial, data...)
			break
		}
		line := append(r.partial, data[:idx]...)
		r.partial = nil
		r.push(string(bytes.TrimRight(line, "\r")))
		data = data[idx+1:]
	}
	return len(p), nil
}

func (r *LineRing) push(line string) {
	if line == "" {
		return
	}
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Lines returns the retained lines in chronological order, including any
// unterminated trailing fragment.
func (r *LineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.partial) > 0 {
		r.push(string(r.partial))
		r.partial = nil
	}
	out := make([]string, 0, r.count)
	start := (r.head - r.count + len(r.lines)) % len(r.lines)
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}
