package ccstools

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/siteutils"
)

// SetupFactory builds the setup statements from the site config file.
// NewSetup is the default; raft-level jobs substitute a NewRaftSetup
// closure.
type SetupFactory func(configFile string) (*Setup, error)

// ScriptRunner runs a jython script preceded by setup statements.
// *ccs.Interpreter satisfies it.
type ScriptRunner interface {
	ExecScriptSync(path string, setup ...string) (*ccs.ExecutionResult, error)
}

// Producer runs a harnessed job's CCS acquisition script on an attached
// interpreter. The script output is written to <jobName>.log in the
// working directory; remote faults raised during execution are returned
// as a *ccs.RemoteFaultError after the log is written.
func Producer(runner ScriptRunner, jobName, ccsScript string, factory SetupFactory) error {
	if factory == nil {
		factory = NewSetup
	}
	configDir, err := siteutils.ConfigDir()
	if err != nil {
		return err
	}
	setup, err := factory(configDir + "/acq.cfg")
	if err != nil {
		return err
	}
	commands, err := setup.Commands()
	if err != nil {
		return err
	}
	scriptPath, err := siteutils.JobDirPath(ccsScript, "")
	if err != nil {
		return err
	}

	result, err := runner.ExecScriptSync(scriptPath, commands...)
	if err != nil {
		return err
	}
	output, execErr := result.Output()
	if writeErr := os.WriteFile(jobName+".log", []byte(output), 0644); writeErr != nil {
		return fmt.Errorf("ccstools: write job log: %w", writeErr)
	}
	if execErr != nil {
		return execErr
	}
	if faults := result.Faults(); len(faults) > 0 {
		return &ccs.RemoteFaultError{Faults: faults}
	}
	return nil
}

// RunJob connects to the ts interpreter on the local CCS host and runs
// the job's acquisition script via Producer.
func RunJob(jobName, ccsScript string, factory SetupFactory, logger lg.Logger, opts ...ccs.Option) error {
	if logger == nil {
		logger = lg.Discard
	}
	opts = append([]ccs.Option{ccs.WithName("ts"), ccs.WithLogger(logger)}, opts...)
	it, err := ccs.Dial("", ccs.DefaultPort, opts...)
	if err != nil {
		return err
	}
	defer it.Close()
	return Producer(it, jobName, ccsScript, factory)
}

// SubsystemMapping reads the alias-to-subsystem mapping from the job's
// CCS subsystem config. An empty configFile falls back to
// LCATR_CCS_SUBSYSTEM_CONFIG; a nil map with nil error means no mapping
// is configured and the default subsystems apply.
func SubsystemMapping(configFile string) (map[string]string, error) {
	if configFile == "" {
		configFile = os.Getenv("LCATR_CCS_SUBSYSTEM_CONFIG")
	}
	if configFile == "" {
		return nil, nil
	}
	cfg, err := ini.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("ccstools: load subsystem config: %w", err)
	}
	sec, err := cfg.GetSection("ccs_subsystems")
	if err != nil {
		return nil, fmt.Errorf("ccstools: %s: %w", configFile, err)
	}
	mapping := make(map[string]string)
	for _, key := range sec.Keys() {
		mapping[key.Name()] = key.String()
	}
	return mapping, nil
}
