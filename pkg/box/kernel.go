package box

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentrun/agentrun/pkg/log"
)

// kernelSentinel frames cell results on the interpreter's stdout. Cell
// output itself is captured inside the interpreter, so only protocol
// lines carry the sentinel.
const kernelSentinel = "<<agentrun:cell>>"

// kernelBootstrap is the loop the python subprocess runs: read a
// base64 cell from stdin, execute it in the shared namespace with
// stdout/stderr captured, emit one sentinel-framed JSON result line.
var kernelBootstrap = `import base64, io, json, sys, traceback
ns = {"__name__": "__main__"}
out = sys.stdout
err = sys.stderr
for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    code = base64.b64decode(line).decode("utf-8")
    cell_out = io.StringIO()
    cell_err = io.StringIO()
    sys.stdout = cell_out
    sys.stderr = cell_err
    try:
        exec(compile(code, "<cell>", "exec"), ns)
    except BaseException:
        traceback.print_exc()
    finally:
        sys.stdout = out
        sys.stderr = err
    out.write("` + kernelSentinel + ` " + json.dumps({"stdout": cell_out.getvalue(), "stderr": cell_err.getvalue()}) + "\n")
    out.flush()
`

// maxCellOutput bounds one cell's captured output line.
const maxCellOutput = 16 * 1024 * 1024

// Kernel is a persistent python interpreter. Cells share one
// namespace, so assignments survive across calls. Cells are executed
// one at a time; an interrupted or crashed cell loses the interpreter
// state and the next cell starts a fresh one.
type Kernel struct {
	callMu sync.Mutex // serializes cells
	procMu sync.Mutex // guards the subprocess fields

	python  string
	workdir string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	logger  zerolog.Logger
}

// NewKernel creates a kernel that starts on first use, with cells
// executing in workdir.
func NewKernel(workdir string) *Kernel {
	return &Kernel{
		python:  "python3",
		workdir: workdir,
		logger:  log.WithComponent("kernel"),
	}
}

type cellResult struct {
	stdout string
	stderr string
	err    error
}

// Execute runs one cell and returns its captured stdout and stderr. A
// returned error means the kernel itself failed, not the cell; cell
// exceptions come back as a traceback on stderr.
func (k *Kernel) Execute(ctx context.Context, code string) (string, string, error) {
	k.callMu.Lock()
	defer k.callMu.Unlock()

	k.procMu.Lock()
	err := k.ensureStartedLocked()
	stdin, scanner := k.stdin, k.scanner
	k.procMu.Unlock()
	if err != nil {
		return "", "", err
	}

	frame := base64.StdEncoding.EncodeToString([]byte(code)) + "\n"
	if _, err := io.WriteString(stdin, frame); err != nil {
		k.kill()
		return "", "", fmt.Errorf("failed to send cell to kernel: %w", err)
	}

	done := make(chan cellResult, 1)
	go func() { done <- readCellResult(scanner) }()

	select {
	case <-ctx.Done():
		// A runaway cell takes the interpreter with it.
		k.kill()
		return "", "", fmt.Errorf("cell interrupted: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			k.kill()
			return "", "", res.err
		}
		return res.stdout, res.stderr, nil
	}
}

func readCellResult(scanner *bufio.Scanner) cellResult {
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, kernelSentinel) {
			// Stray interpreter output, e.g. a C extension writing to
			// the real stdout.
			continue
		}
		var payload struct {
			Stdout string `json:"stdout"`
			Stderr string `json:"stderr"`
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, kernelSentinel))
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return cellResult{err: fmt.Errorf("kernel protocol error: %w", err)}
		}
		return cellResult{stdout: payload.Stdout, stderr: payload.Stderr}
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return cellResult{err: fmt.Errorf("kernel exited: %w", err)}
}

func (k *Kernel) ensureStartedLocked() error {
	if k.cmd != nil {
		return nil
	}

	cmd := exec.Command(k.python, "-u", "-c", kernelBootstrap)
	cmd.Dir = k.workdir
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open kernel stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open kernel stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCellOutput)

	k.cmd = cmd
	k.stdin = stdin
	k.scanner = scanner
	k.logger.Info().Int("pid", cmd.Process.Pid).Msg("Kernel started")
	return nil
}

func (k *Kernel) kill() {
	k.procMu.Lock()
	defer k.procMu.Unlock()
	k.killLocked()
}

func (k *Kernel) killLocked() {
	if k.cmd == nil {
		return
	}
	k.stdin.Close()
	k.cmd.Process.Kill()
	k.cmd.Wait()
	k.cmd, k.stdin, k.scanner = nil, nil, nil
	k.logger.Info().Msg("Kernel stopped")
}

// Shutdown terminates the interpreter if one is running.
func (k *Kernel) Shutdown() {
	k.procMu.Lock()
	defer k.procMu.Unlock()
	k.killLocked()
}
