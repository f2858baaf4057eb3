package ccs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
)

// CommandTarget is a named remote command target within CCS, addressed by
// textual commands through the interpreter session.
type CommandTarget interface {
	// SynchCommand issues a synchronous command with the given timeout in
	// seconds and returns the parsed result. A *RemoteFaultError is
	// returned alongside the value when the output carried remote
	// exception lines.
	SynchCommand(timeout int, args ...any) (Value, error)
	// SynchCommandString is SynchCommand without result parsing, for
	// commands whose output is free text rather than a printed value.
	SynchCommandString(timeout int, args ...any) (string, error)
	// AsynchCommand issues a fire-and-forget command.
	AsynchCommand(args ...any) error
}

// Subsystem forwards commands to a CCS subsystem attached in the remote
// interpreter under a local alias.
type Subsystem struct {
	interp *Interpreter
	alias  string
	name   string
	logger lg.Logger
}

var _ CommandTarget = (*Subsystem)(nil)

// AttachSubsystem binds name to alias in the remote interpreter and returns
// the forwarding handle.
func (it *Interpreter) AttachSubsystem(alias, name string) (*Subsystem, error) {
	statement := fmt.Sprintf("%s = CCS.attachSubsystem('%s')", alias, name)
	if _, err := it.ExecSync(statement); err != nil {
		return nil, fmt.Errorf("ccs: attach subsystem %s: %w", name, err)
	}
	return &Subsystem{interp: it, alias: alias, name: name, logger: it.logger}, nil
}

// Name returns the subsystem name on the CCS bus.
func (s *Subsystem) Name() string { return s.name }

// formatArg renders an argument in the interpreter's notation: strings are
// single-quoted, booleans are the Jython literals.
func formatArg(arg any) string {
	switch v := arg.(type) {
	case string:
		return "'" + v + "'"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func joinArgs(timeout int, args []any) string {
	components := make([]string, 0, len(args)+1)
	if timeout >= 0 {
		components = append(components, strconv.Itoa(timeout))
	}
	for _, arg := range args {
		components = append(components, formatArg(arg))
	}
	return strings.Join(components, ", ")
}

func (s *Subsystem) SynchCommand(timeout int, args ...any) (Value, error) {
	out, err := s.SynchCommandString(timeout, args...)
	if err != nil {
		return Null(), err
	}
	return ParseValue(out), nil
}

func (s *Subsystem) SynchCommandString(timeout int, args ...any) (string, error) {
	jyArgs := joinArgs(timeout, args)
	s.logger.Debug(jyArgs)
	statement := fmt.Sprintf("print %s.synchCommand(%s).getResult()", s.alias, jyArgs)
	res, err := s.interp.ExecSync(statement)
	if err != nil {
		return "", err
	}
	out, _ := res.Output()
	if faults := res.Faults(); len(faults) > 0 {
		return out, &RemoteFaultError{Faults: faults}
	}
	return out, nil
}

func (s *Subsystem) AsynchCommand(args ...any) error {
	jyArgs := joinArgs(-1, args)
	s.logger.Debug(jyArgs)
	statement := fmt.Sprintf("%s.asynchCommand(%s)", s.alias, jyArgs)
	res, err := s.interp.ExecSync(statement)
	if err != nil {
		return err
	}
	if faults := res.Faults(); len(faults) > 0 {
		return &RemoteFaultError{Faults: faults}
	}
	return nil
}

// Decorator overlays logging of the commands sent to a CCS command target.
// The logged message is the space-joined argument list, matching the
// command form the test-stand operators grep for in job logs.
type Decorator struct {
	target CommandTarget
	logger lg.Logger
}

var _ CommandTarget = (*Decorator)(nil)

func NewDecorator(target CommandTarget, logger lg.Logger) *Decorator {
	if logger == nil {
		logger = lg.Discard
	}
	return &Decorator{target: target, logger: logger}
}

func (d *Decorator) logCommand(args []any) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}
	d.logger.Info(strings.Join(parts, " "))
}

func (d *Decorator) SynchCommand(timeout int, args ...any) (Value, error) {
	d.logCommand(append([]any{timeout}, args...))
	return d.target.SynchCommand(timeout, args...)
}

func (d *Decorator) SynchCommandString(timeout int, args ...any) (string, error) {
	d.logCommand(append([]any{timeout}, args...))
	return d.target.SynchCommandString(timeout, args...)
}

func (d *Decorator) AsynchCommand(args ...any) error {
	d.logCommand(args)
	return d.target.AsynchCommand(args...)
}

// VersionInfo is the distribution info reported by a subsystem.
type VersionInfo struct {
	Project string
	Version string
	Rev     string
}

// Subsystems is a container for a collection of attached CCS subsystems,
// keyed by the caller's alias.
type Subsystems struct {
	targets  map[string]CommandTarget
	aliases  []string
	Versions map[string]VersionInfo
}

// AttachSubsystems imports the scripting package in the remote interpreter,
// attaches each subsystem in mapping (alias -> bus name) behind a logging
// decorator, and collects per-subsystem version info.
func AttachSubsystems(it *Interpreter, mapping map[string]string, logger lg.Logger) (*Subsystems, error) {
	if _, err := it.ExecSync("from org.lsst.ccs.scripting import CCS"); err != nil {
		return nil, err
	}
	aliases := make([]string, 0, len(mapping))
	for alias := range mapping {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	subs := &Subsystems{
		targets:  make(map[string]CommandTarget, len(mapping)),
		aliases:  aliases,
		Versions: make(map[string]VersionInfo, len(mapping)),
	}
	for _, alias := range aliases {
		sub, err := it.AttachSubsystem(alias, mapping[alias])
		if err != nil {
			return nil, err
		}
		subs.targets[alias] = NewDecorator(sub, logger)
	}
	if err := subs.collectVersionInfo(); err != nil {
		return nil, err
	}
	return subs, nil
}

// Get returns the command target attached under alias, or nil.
func (s *Subsystems) Get(alias string) CommandTarget { return s.targets[alias] }

// Aliases returns the attach order.
func (s *Subsystems) Aliases() []string { return s.aliases }

func (s *Subsystems) collectVersionInfo() error {
	for _, alias := range s.aliases {
		out, err := s.targets[alias].SynchCommandString(10, "getDistributionInfo")
		if err != nil {
			return fmt.Errorf("ccs: %s getDistributionInfo: %w", alias, err)
		}
		info, err := parseVersionInfo(out)
		if err != nil {
			return fmt.Errorf("ccs: %s getDistributionInfo: %w", alias, err)
		}
		s.Versions[alias] = info
	}
	return nil
}

// parseVersionInfo extracts the project name, version and source revision
// from getDistributionInfo's "key: value" lines.
func parseVersionInfo(out string) (VersionInfo, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		tokens := strings.SplitN(line, ":", 2)
		if len(tokens) != 2 {
			continue
		}
		fields[strings.TrimSpace(tokens[0])] = strings.TrimSpace(tokens[1])
	}
	info := VersionInfo{
		Project: fields["Project"],
		Version: fields["Project Version"],
		Rev:     fields["Source Code Rev"],
	}
	if info.Project == "" {
		return info, fmt.Errorf("no Project entry in distribution info")
	}
	return info, nil
}
