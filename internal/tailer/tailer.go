// Package tailer is the Tailer (component E): it follows a growing log
// file the way kozmic/builds/tasks.py's Tailer thread follows
// build.log, publishing each completed line, and kills a stalled
// container after too many consecutive quiet periods — a feature the
// original configured (KOZMIC_STALL_TIMEOUT in kozmic/config.py) but
// never wired to anything; this package supplements that gap.
package tailer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kozmic/kozmic/internal/docker"
)

// LinePublisher is the subset of *publish.Publisher the Tailer needs.
type LinePublisher interface {
	Line(ctx context.Context, raw string) error
}

// Killer kills a running container; satisfied by docker.Engine.
type Killer interface {
	Kill(ctx context.Context, h docker.Handle) error
}

// Config controls stall detection. PollInterval is how often the
// Tailer checks for new data when fsnotify hasn't fired; KillTimeout
// is the total quiet duration after which the target container is
// killed (DefaultConfig uses 600s; kozmicd passes its configured
// STALL_TIMEOUT, 900s by default).
type Config struct {
	PollInterval time.Duration
	KillTimeout  time.Duration
}

// DefaultConfig matches KOZMIC_STALL_TIMEOUT's default of 600 seconds.
var DefaultConfig = Config{
	PollInterval: 500 * time.Millisecond,
	KillTimeout:  600 * time.Second,
}

// Tailer follows logPath and publishes completed lines until Stop is
// called or ctx is canceled. It reports whether it killed the target
// container due to a stall via the Stalled field of its Result.
type Tailer struct {
	logPath string
	pub     LinePublisher
	killer  Killer
	handle  docker.Handle
	cfg     Config

	stop chan struct{}
	done chan Result
}

// Result is returned once the Tailer stops.
type Result struct {
	Stalled bool
	Err     error
}

// New builds a Tailer over logPath. handle identifies the container to
// kill if the log goes quiet for cfg.KillTimeout.
func New(logPath string, pub LinePublisher, killer Killer, handle docker.Handle, cfg Config) *Tailer {
	return &Tailer{
		logPath: logPath,
		pub:     pub,
		killer:  killer,
		handle:  handle,
		cfg:     cfg,
		stop:    make(chan struct{}),
		done:    make(chan Result, 1),
	}
}

// Start begins tailing in a new goroutine, mirroring the teacher's
// pattern of daemon-style goroutines coordinated via channels rather
// than exposed thread handles (backend/runner.go's dispatch loop).
func (t *Tailer) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop asks the Tailer to stop following the file and returns at once;
// the Tailer publishes any remaining complete lines before Wait
// returns.
func (t *Tailer) Stop() {
	close(t.stop)
}

// Wait blocks until the Tailer has stopped and returns its result.
func (t *Tailer) Wait() Result {
	return <-t.done
}

func (t *Tailer) run(ctx context.Context) {
	result := Result{}
	defer func() { t.done <- result }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		result.Err = fmt.Errorf("tailer: creating watcher: %w", err)
		return
	}
	defer watcher.Close()

	dir := dirOf(t.logPath)
	if err := watcher.Add(dir); err != nil {
		result.Err = fmt.Errorf("tailer: watching %s: %w", dir, err)
		return
	}

	var file *os.File
	var reader *bufio.Reader
	var offset int64
	quiet := time.Duration(0)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			t.drain(ctx, &file, &reader, &offset)
			return
		case <-ctx.Done():
			return
		case <-watcher.Events:
			if t.readAvailable(ctx, &file, &reader, &offset) {
				quiet = 0
			}
		case <-ticker.C:
			if file == nil {
				var err error
				file, err = os.Open(t.logPath)
				if err == nil {
					reader = bufio.NewReader(file)
				}
			}
			if t.readAvailable(ctx, &file, &reader, &offset) {
				quiet = 0
			} else {
				quiet += t.cfg.PollInterval
			}
			if quiet >= t.cfg.KillTimeout {
				if t.killer != nil {
					_ = t.killer.Kill(ctx, t.handle)
				}
				result.Stalled = true
				t.drain(ctx, &file, &reader, &offset)
				return
			}
		}
	}
}

// readAvailable reads as many complete lines as are currently buffered
// and publishes them, reporting whether anything new was read.
func (t *Tailer) readAvailable(ctx context.Context, file **os.File, reader **bufio.Reader, offset *int64) bool {
	if *file == nil || *reader == nil {
		return false
	}
	any := false
	for {
		line, err := (*reader).ReadString('\n')
		if line != "" && err == nil {
			_ = t.pub.Line(ctx, trimNewline(line))
			*offset += int64(len(line))
			any = true
			continue
		}
		if line != "" && err == io.EOF {
			// Partial line at EOF: push the reader back and wait for more.
			_, _ = (*file).Seek(*offset, io.SeekStart)
			*reader = bufio.NewReader(*file)
		}
		break
	}
	return any
}

// drain does one final read pass so complete lines written since the
// last poll aren't lost when the caller stops the Tailer. A final line
// with no trailing newline is not published.
func (t *Tailer) drain(ctx context.Context, file **os.File, reader **bufio.Reader, offset *int64) {
	t.readAvailable(ctx, file, reader, offset)
	if *file != nil {
		(*file).Close()
	}
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
