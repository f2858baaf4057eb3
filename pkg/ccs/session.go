// Package ccs drives the CCS Jython interpreter console over its
// line-oriented socket protocol. One Interpreter owns one TCP connection;
// each statement or script is framed as
//
//	startContent:<id>
//	<verbatim content>
//	endContent:<id>
//
// and the interpreter marks completion by embedding doneExecution:<id> in
// its reply stream. A single goroutine owns the socket: commands are queued
// to it and completions are delivered on per-command channels, so two
// in-flight commands can never race for the reply stream.
package ccs

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
)

// DefaultPort is the CCS interpreter console port.
const DefaultPort = 4444

// faultPattern matches the first line of a remote Java exception report:
// a fully qualified class name ending in Exception or Error, optionally
// behind a "Caused by:" prefix. Indented stack frames do not match.
var faultPattern = regexp.MustCompile(`^(?:Caused by: )?(?:[\w$]+\.)+[\w$]*(?:Exception|Error)\b`)

// command pairs a framed body with the result handle its completion is
// delivered on.
type command struct {
	id   string
	body string
	res  *ExecutionResult
}

// ExecutionResult is the handle for one in-flight command. Output and
// Faults block until the completion sentinel (or a fatal socket error) is
// observed; IsRunning is a non-blocking poll.
type ExecutionResult struct {
	id     string
	done   chan struct{}
	output string
	faults []string
	err    error
}

// ID returns the command id used in the wire framing.
func (r *ExecutionResult) ID() string { return r.id }

// IsRunning reports whether the command is still awaiting its sentinel.
func (r *ExecutionResult) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Output blocks until completion and returns the accumulated interpreter
// output with the sentinel removed. The error is non-nil only for
// communication failures; remote faults do not fail the command (see Faults).
func (r *ExecutionResult) Output() (string, error) {
	<-r.done
	return r.output, r.err
}

// Faults blocks until completion and returns the output lines that matched
// the remote exception signature, in stream order.
func (r *ExecutionResult) Faults() []string {
	<-r.done
	return r.faults
}

// CompletedResult builds an already-completed result, for test doubles of
// the interpreter-facing interfaces.
func CompletedResult(output string, faults []string) *ExecutionResult {
	r := &ExecutionResult{done: make(chan struct{})}
	r.complete(output, faults, nil)
	return r
}

func (r *ExecutionResult) complete(output string, faults []string, err error) {
	r.output = output
	r.faults = faults
	r.err = err
	close(r.done)
}

// Interpreter is a session with the remote CCS scripting console.
type Interpreter struct {
	host   string
	port   int
	name   string
	conn   net.Conn
	reader *bufio.Reader
	echo   io.Writer
	logger lg.Logger

	cmds chan *command
	quit chan struct{}
	once sync.Once

	fatal error // owned by the run goroutine
}

// Option configures an Interpreter before the connection is established.
type Option func(*Interpreter)

// WithEcho sets the writer that incremental remote output is mirrored to
// while a command runs. Defaults to os.Stdout; use io.Discard to silence.
func WithEcho(w io.Writer) Option { return func(it *Interpreter) { it.echo = w } }

// WithLogger sets the structured logger. Defaults to lg.Discard.
func WithLogger(logger lg.Logger) Option { return func(it *Interpreter) { it.logger = logger } }

// WithName registers an interpreter name on the remote console right after
// connecting, via the initializeInterpreter command.
func WithName(name string) Option {
	return func(it *Interpreter) { it.name = strings.ReplaceAll(name, "\n", "") }
}

// Dial connects to the interpreter console at host:port and consumes the
// greeting. A greeting containing the refusal marker yields
// ErrConnectionRefused. An empty host means the local machine.
func Dial(host string, port int, opts ...Option) (*Interpreter, error) {
	if host == "" {
		host, _ = os.Hostname()
	}
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("ccs: dial %s:%d: %w", host, port, err)
	}
	it := &Interpreter{
		host:   host,
		port:   port,
		conn:   conn,
		reader: bufio.NewReader(conn),
		echo:   os.Stdout,
		logger: lg.Discard,
		cmds:   make(chan *command, 16),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(it)
	}

	greeting := make([]byte, 1024)
	n, err := conn.Read(greeting)
	if err != nil {
		conn.Close()
		return nil, &CommError{Op: "greeting", Err: err}
	}
	if strings.Contains(string(greeting[:n]), "ConnectionRefused") {
		conn.Close()
		return nil, ErrConnectionRefused
	}
	it.logger.Debug("connected to CCS interpreter",
		lg.String("host", host), lg.Int("port", port))

	go it.run()

	if it.name != "" {
		if _, err := it.ExecSync("initializeInterpreter " + it.name); err != nil {
			it.Close()
			return nil, err
		}
	}
	return it, nil
}

// Close tears down the session. In-flight and queued commands complete with
// ErrSessionClosed or a CommError.
func (it *Interpreter) Close() error {
	it.once.Do(func() { close(it.quit) })
	return it.conn.Close()
}

// Exec queues content for execution and returns immediately with the
// result handle.
func (it *Interpreter) Exec(content string) (*ExecutionResult, error) {
	cmd := &command{
		id:   newCommandID(content),
		body: content,
		res:  &ExecutionResult{done: make(chan struct{})},
	}
	cmd.res.id = cmd.id
	select {
	case it.cmds <- cmd:
		return cmd.res, nil
	case <-it.quit:
		return nil, ErrSessionClosed
	}
}

// ExecSync executes content and blocks until the sentinel is observed.
// The returned result exposes the captured output and any remote fault
// lines; the error is non-nil only for session-level failures.
func (it *Interpreter) ExecSync(content string) (*ExecutionResult, error) {
	res, err := it.Exec(content)
	if err != nil {
		return nil, err
	}
	if _, err := res.Output(); err != nil {
		return res, err
	}
	return res, nil
}

// ExecScript reads the file and forwards its full text asynchronously.
func (it *Interpreter) ExecScript(path string) (*ExecutionResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ccs: read script: %w", err)
	}
	return it.Exec(string(content))
}

// ExecScriptSync executes each setup statement synchronously, then the
// script's full text, blocking until it completes.
func (it *Interpreter) ExecScriptSync(path string, setup ...string) (*ExecutionResult, error) {
	for _, statement := range setup {
		it.logger.Debug("setup command", lg.String("statement", statement))
		if _, err := it.ExecSync(statement); err != nil {
			return nil, err
		}
	}
	it.logger.Debug("executing script", lg.String("path", path))
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ccs: read script: %w", err)
	}
	return it.ExecSync(string(content))
}

// run owns the socket. Commands are written and their reply streams
// consumed strictly one at a time, in the order they were queued.
func (it *Interpreter) run() {
	for {
		select {
		case cmd := <-it.cmds:
			it.execute(cmd)
		case <-it.quit:
			it.drain()
			return
		}
	}
}

// drain fails any commands still queued at shutdown.
func (it *Interpreter) drain() {
	for {
		select {
		case cmd := <-it.cmds:
			cmd.res.complete("", nil, ErrSessionClosed)
		default:
			return
		}
	}
}

func (it *Interpreter) execute(cmd *command) {
	if it.fatal != nil {
		cmd.res.complete("", nil, it.fatal)
		return
	}

	envelope := "startContent:" + cmd.id + "\n" + cmd.body + "\nendContent:" + cmd.id + "\n"
	if _, err := io.WriteString(it.conn, envelope); err != nil {
		it.fatal = &CommError{Op: "write", Err: err}
		cmd.res.complete("", nil, it.fatal)
		return
	}

	sentinel := "doneExecution:" + cmd.id
	var buf strings.Builder
	var faults []string
	for {
		line, err := it.reader.ReadString('\n')
		if line != "" {
			if idx := strings.Index(line, sentinel); idx >= 0 {
				if prefix := line[:idx]; prefix != "" {
					buf.WriteString(prefix)
				}
				cmd.res.complete(buf.String(), faults, nil)
				return
			}
			trimmed := strings.TrimRight(line, "\r\n")
			if faultPattern.MatchString(trimmed) {
				faults = append(faults, trimmed)
			}
			if it.echo != nil {
				io.WriteString(it.echo, line)
			}
			buf.WriteString(line)
		}
		if err != nil {
			it.fatal = &CommError{Op: "read", Err: err}
			cmd.res.complete(buf.String(), faults, it.fatal)
			return
		}
	}
}

// newCommandID builds an id from the current time in milliseconds and a
// random suffix. The id is regenerated if it happens to occur in the body,
// since a collision would mis-fire the sentinel match.
func newCommandID(body string) string {
	for {
		id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), rand.Intn(1000))
		if !strings.Contains(body, id) {
			return id
		}
	}
}
