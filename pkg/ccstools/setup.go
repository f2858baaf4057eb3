// Package ccstools supplements the interface between harnessed jobs and
// the CCS jython interpreter: ordered setup statements for CCS scripts,
// the producer that runs an acquisition script end to end, and helpers
// for the ts8 subsystem.
package ccstools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/etresults"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/siteutils"
)

func quote(s string) string { return "'" + s + "'" }

// Setup holds the context-specific setup statements for a CCS jython
// script: variables known on the calling side that the script needs, in
// insertion order.
type Setup struct {
	keys   []string
	values map[string]string
}

// Set records a raw assignment, preserving first-insertion order.
func (s *Setup) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// SetQuoted records an assignment with a single-quoted string value.
func (s *Setup) SetQuoted(key, value string) { s.Set(key, quote(value)) }

// Get returns the recorded value, as it will appear in the script.
func (s *Setup) Get(key string) string { return s.values[key] }

// Commands renders the setup statements, ending with the sys.path
// extension that makes the jython-side modules importable.
func (s *Setup) Commands() ([]string, error) {
	commands := make([]string, 0, len(s.keys)+2)
	for _, key := range s.keys {
		commands = append(commands, fmt.Sprintf("%s = %s", key, s.values[key]))
	}
	pythonDir, err := siteutils.PythonDir()
	if err != nil {
		return nil, err
	}
	commands = append(commands, "import sys")
	commands = append(commands, fmt.Sprintf("sys.path.append(%q)", pythonDir))
	return commands, nil
}

// NewSetup builds the standard setup for a single-sensor context.
// configFile names the site-specific configuration file whose entries are
// resolved against the config directory; relative names are looked up in
// the job directory.
func NewSetup(configFile string) (*Setup, error) {
	s := &Setup{values: make(map[string]string)}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	s.SetQuoted("tsCWD", cwd)

	for _, item := range []struct {
		key    string
		lookup func() (string, error)
	}{
		{"labname", siteutils.SiteName},
		{"jobname", siteutils.JobName},
		{"CCDID", siteutils.UnitID},
		{"UNITID", siteutils.UnitID},
		{"LSSTID", siteutils.LSSTID},
	} {
		value, err := item.lookup()
		if err != nil {
			return nil, err
		}
		s.SetQuoted(item.key, value)
	}
	if run, err := siteutils.RunNumber(); err == nil {
		s.SetQuoted("RUNNUM", run)
	} else {
		s.Set("RUNNUM", "no_lcatr_run_number")
	}

	s.SetQuoted("ts", envDefault("CCS_TS", "ts"))
	s.SetQuoted("archon", envDefault("CCS_ARCHON", "archon"))

	// Only available for certain contexts.
	for _, outlet := range []struct{ env, key string }{
		{"CCS_VAC_OUTLET", "vac_outlet"},
		{"CCS_CRYO_OUTLET", "cryo_outlet"},
		{"CCS_PUMP_OUTLET", "pump_outlet"},
	} {
		if value := os.Getenv(outlet.env); value != "" {
			s.Set(outlet.key, value)
		}
	}

	if err := s.readConfig(configFile); err != nil {
		return nil, err
	}
	return s, nil
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// readConfig loads key = value entries naming site-specific files. The
// basenames are given in the config file; full paths are resolved against
// the config directory.
func (s *Setup) readConfig(configFile string) error {
	if configFile == "" {
		return nil
	}
	if !filepath.IsAbs(configFile) {
		jobDir, err := siteutils.JobDir("")
		if err != nil {
			return err
		}
		configFile = filepath.Join(jobDir, configFile)
	}
	configDir, err := siteutils.ConfigDir()
	if err != nil {
		return err
	}
	fd, err := os.Open(configFile)
	if err != nil {
		return fmt.Errorf("ccstools: open setup config: %w", err)
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		path := filepath.Join(configDir, strings.TrimSpace(value))
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
		s.SetQuoted(strings.TrimSpace(key), path)
	}
	return scanner.Err()
}

// NewRaftSetup extends the standard setup with the raft contents: it
// queries the eTraveler hardware hierarchy for the sensors installed in
// the unit and selects the ACF and sequencer files for the CCD type.
func NewRaftSetup(ctx context.Context, configFile string, conn *etresults.Connection, logger lg.Logger) (*Setup, error) {
	s, err := NewSetup(configFile)
	if err != nil {
		return nil, err
	}
	ccdNames, ccdManuNames, err := etresults.CCDNames(ctx, conn, logger)
	if err != nil {
		return nil, err
	}
	for _, slot := range sortedKeys(ccdNames) {
		s.SetQuoted("CCD"+slot, ccdNames[slot])
	}
	for _, slot := range sortedKeys(ccdManuNames) {
		s.SetQuoted("CCDMANU"+slot, ccdManuNames[slot])
	}
	return s, s.selectSequencerFiles()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// selectSequencerFiles picks the ACF and sequencer files matching the
// unit's CCD type. For raft-level units (RTM, ETU) the sequencer file is
// also copied into the working directory.
func (s *Setup) selectSequencerFiles() error {
	ccdType, err := siteutils.UnitType()
	if err != nil {
		return err
	}
	s.SetQuoted("sequence_file", "NA")
	s.Set("acffile", s.Get("itl_acffile"))
	s.SetQuoted("CCSCCDTYPE", "ITL")

	upper := strings.ToUpper(ccdType)
	if strings.Contains(upper, "RTM") || strings.Contains(upper, "ETU") {
		if strings.Contains(ccdType, "e2v") {
			s.SetQuoted("CCSCCDTYPE", "E2V")
			s.Set("acffile", s.Get("e2v_acffile"))
			s.Set("sequence_file", s.Get("e2v_seqfile"))
		} else {
			s.SetQuoted("CCSCCDTYPE", "ITL")
			s.Set("acffile", s.Get("itl_acffile"))
			s.Set("sequence_file", s.Get("itl_seqfile"))
		}
		src := strings.Trim(s.Get("sequence_file"), "'")
		dst := strings.Trim(s.Get("tsCWD"), "'")
		if err := copyFile(src, filepath.Join(dst, filepath.Base(src))); err != nil {
			return fmt.Errorf("ccstools: stage sequencer file: %w", err)
		}
		return nil
	}
	if strings.Contains(ccdType, "ITL") {
		s.SetQuoted("CCSCCDTYPE", "ITL")
		s.Set("acffile", s.Get("itl_acffile"))
	}
	if strings.Contains(ccdType, "e2v") {
		s.SetQuoted("CCSCCDTYPE", "E2V")
		s.Set("acffile", s.Get("e2v_acffile"))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
