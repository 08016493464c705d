// Package local hosts agent processes in PTYs owned by the orchestrator
// process itself. Sessions do not survive an orchestrator restart; the
// tmux runtime is the durable default, this one suits tests and
// single-shot runs.
package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

const (
	termCols = 120
	termRows = 40

	stopGracePeriod = 2 * time.Second
)

// proc is one hosted PTY process with a virtual screen replaying its
// output. The screen is what GetOutput reads; agents draw TUIs with
// cursor addressing, so raw byte capture would be unreadable.
type proc struct {
	cmd      *exec.Cmd
	ptmx     *os.File
	waitDone chan struct{}

	termMu sync.Mutex
	term   vt10x.Terminal
}

// Runtime implements the runtime plugin contract with in-process PTYs.
type Runtime struct {
	logger *logger.Logger

	mu    sync.RWMutex
	procs map[string]*proc
}

// New returns the local PTY runtime.
func New(log *logger.Logger) *Runtime {
	return &Runtime{
		logger: log.WithComponent("runtime-local"),
		procs:  make(map[string]*proc),
	}
}

func (r *Runtime) Name() string { return "local" }

// Create starts the user's shell in a PTY at fixed dimensions and wires
// a virtual terminal to its output.
func (r *Runtime) Create(ctx context.Context, opts plugin.CreateOptions) (plugin.Handle, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = opts.WorkDir
	cmd.Env = mergeEnv(opts.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: termCols, Rows: termRows})
	if err != nil {
		return plugin.Handle{}, oerr.Wrap(oerr.KindPlugin, err, "start pty for %s", opts.Name)
	}

	p := &proc{
		cmd:      cmd,
		ptmx:     ptmx,
		waitDone: make(chan struct{}),
		term:     vt10x.New(vt10x.WithSize(termCols, termRows)),
	}

	r.mu.Lock()
	r.procs[opts.Name] = p
	r.mu.Unlock()

	go r.readOutput(opts.Name, p)
	go r.wait(opts.Name, p)

	r.logger.Info("started local pty",
		zap.String("name", opts.Name),
		zap.String("shell", shell),
		zap.Int("pid", cmd.Process.Pid))

	return plugin.Handle{
		ID:          opts.Name,
		RuntimeName: r.Name(),
		Data:        map[string]string{"pid": strconv.Itoa(cmd.Process.Pid)},
	}, nil
}

// readOutput feeds PTY output to the virtual terminal until EOF.
func (r *Runtime) readOutput(name string, p *proc) {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.termMu.Lock()
			_, _ = p.term.Write(buf[:n])
			p.termMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// wait reaps the process. waitDone doubles as the liveness signal.
func (r *Runtime) wait(name string, p *proc) {
	defer close(p.waitDone)
	err := p.cmd.Wait()
	_ = p.ptmx.Close()
	r.logger.Info("local pty exited", zap.String("name", name), zap.Error(err))
}

// Destroy terminates the process: SIGTERM, a grace period, then SIGKILL.
// Destroying an unknown or dead handle succeeds.
func (r *Runtime) Destroy(ctx context.Context, h plugin.Handle) error {
	r.mu.Lock()
	p, ok := r.procs[h.ID]
	delete(r.procs, h.ID)
	r.mu.Unlock()

	if !ok {
		// Not hosted by this orchestrator instance; fall back to the
		// recorded pid so restarted orchestrators can still clean up.
		return killByPid(h)
	}

	select {
	case <-p.waitDone:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.waitDone:
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
	case <-time.After(stopGracePeriod):
		_ = p.cmd.Process.Kill()
	}
	_ = p.ptmx.Close()
	return nil
}

// SendMessage writes the text to the PTY followed by carriage return.
func (r *Runtime) SendMessage(ctx context.Context, h plugin.Handle, text string) error {
	p, ok := r.lookup(h.ID)
	if !ok {
		return oerr.E(oerr.KindNotFound, "local pty %s is not hosted by this process", h.ID)
	}
	if _, err := p.ptmx.Write([]byte(text + "\r")); err != nil {
		return oerr.Wrap(oerr.KindPlugin, err, "write to pty %s", h.ID)
	}
	return nil
}

// GetOutput renders the last n lines of the virtual screen.
func (r *Runtime) GetOutput(ctx context.Context, h plugin.Handle, lines int) (string, error) {
	p, ok := r.lookup(h.ID)
	if !ok {
		return "", oerr.E(oerr.KindNotFound, "local pty %s is not hosted by this process", h.ID)
	}

	p.termMu.Lock()
	rendered := renderScreen(p.term, termCols, termRows)
	p.termMu.Unlock()

	return lastLines(rendered, lines), nil
}

// IsAlive reports whether the process is still running. For handles from
// a previous orchestrator instance it probes the recorded pid.
func (r *Runtime) IsAlive(ctx context.Context, h plugin.Handle) (bool, error) {
	p, ok := r.lookup(h.ID)
	if !ok {
		return pidAlive(h), nil
	}
	select {
	case <-p.waitDone:
		return false, nil
	default:
		return true, nil
	}
}

func (r *Runtime) lookup(id string) (*proc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[id]
	return p, ok
}

// renderScreen extracts the visible text rows from the virtual terminal.
func renderScreen(term vt10x.Terminal, cols, rows int) []string {
	lines := make([]string, rows)
	for row := 0; row < rows; row++ {
		chars := make([]rune, 0, cols)
		for col := 0; col < cols; col++ {
			g := term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = strings.TrimRight(string(chars), " ")
	}
	return lines
}

// lastLines drops trailing blank rows and keeps at most n lines.
func lastLines(lines []string, n int) string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// killByPid terminates a process known only by its recorded pid.
func killByPid(h plugin.Handle) error {
	pid, err := strconv.Atoi(h.Data["pid"])
	if err != nil || pid <= 1 {
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if process.Signal(syscall.Signal(0)) != nil {
		return nil
	}
	_ = process.Signal(syscall.SIGTERM)
	time.Sleep(stopGracePeriod)
	if process.Signal(syscall.Signal(0)) == nil {
		_ = process.Kill()
	}
	return nil
}

// pidAlive probes the recorded pid with signal 0.
func pidAlive(h plugin.Handle) bool {
	pid, err := strconv.Atoi(h.Data["pid"])
	if err != nil || pid <= 1 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// mergeEnv overlays custom variables on the parent environment.
func mergeEnv(env map[string]string) []string {
	base := make(map[string]string, len(env)+32)
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			base[entry[:eq]] = entry[eq+1:]
		}
	}
	for k, v := range env {
		base[k] = v
	}
	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}
