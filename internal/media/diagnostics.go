package media

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DiagnosticParser interprets single lines of the engine's diagnostic stream.
// Keeping it behind an interface lets the format dependency be swapped when
// the engine's output changes.
type DiagnosticParser interface {
	// Version identifies the format the parser understands.
	Version() string
	// Timestamp extracts the encoded position in seconds. ok is false when the
	// line carries no well-formed timestamp.
	Timestamp(line string) (seconds float64, ok bool)
	// ErrorLike reports whether the line looks like an error message.
	ErrorLike(line string) bool
}

// FFmpegDiagnosticsVersion is the format understood by FFmpegDiagnostics.
const FFmpegDiagnosticsVersion = "ffmpeg-stderr/1"

// FFmpegDiagnostics parses ffmpeg's stderr status lines, e.g.
//
//	frame=  250 fps= 50 q=29.0 size=    512kB time=00:00:10.00 bitrate= 419.4kbits/s speed=2.0x
//
// Any line containing "error" in any case is error-like.
type FFmpegDiagnostics struct{}

var _ DiagnosticParser = FFmpegDiagnostics{}

var reTime = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// Version implements DiagnosticParser.
func (FFmpegDiagnostics) Version() string { return FFmpegDiagnosticsVersion }

// Timestamp implements DiagnosticParser.
func (FFmpegDiagnostics) Timestamp(line string) (float64, bool) {
	m := reTime.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	mm, err := strconv.Atoi(m[2])
	if err != nil || mm > 59 {
		return 0, false
	}
	s, err := strconv.ParseFloat(m[3], 64)
	if err != nil || s >= 60 {
		return 0, false
	}
	return float64(h)*3600 + float64(mm)*60 + s, true
}

// ErrorLike implements DiagnosticParser.
func (FFmpegDiagnostics) ErrorLike(line string) bool {
	return strings.Contains(strings.ToLower(line), "error")
}

// percentOf converts elapsed seconds into a percentage of total, clamped to
// [0, 100].
func percentOf(elapsed, total float64) float64 {
	if total <= 0 {
		return 0
	}
	p := elapsed / total * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// scanDiagnosticLines is a bufio.SplitFunc that ends a line at either '\n' or
// '\r'. ffmpeg redraws its status line with carriage returns only, so plain
// ScanLines would hold every progress update until the run ends. Empty lines
// are skipped.
func scanDiagnosticLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) {
		r, w := utf8.DecodeRune(data[start:])
		if r != '\n' && r != '\r' {
			break
		}
		start += w
	}

	for i := start; i < len(data); {
		r, w := utf8.DecodeRune(data[i:])
		if r == '\n' || r == '\r' {
			return i + w, data[start:i], nil
		}
		i += w
	}

	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

// lineTail keeps the newest lines up to its capacity. It is owned by a
// single goroutine.
type lineTail struct {
	lines []string
	pos   int
	full  bool
}

func newLineTail(size int) *lineTail {
	if size < 1 {
		size = 1
	}
	return &lineTail{lines: make([]string, size)}
}

func (t *lineTail) Add(line string) {
	t.lines[t.pos] = line
	t.pos = (t.pos + 1) % len(t.lines)
	if t.pos == 0 {
		t.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (t *lineTail) Lines() []string {
	if !t.full {
		return append([]string(nil), t.lines[:t.pos]...)
	}
	out := make([]string, len(t.lines))
	copy(out, t.lines[t.pos:])
	copy(out[len(t.lines)-t.pos:], t.lines[:t.pos])
	return out
}
