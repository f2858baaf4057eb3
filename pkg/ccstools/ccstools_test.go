package ccstools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
)

// stubTarget replays canned values keyed by the first command token.
type stubTarget struct {
	replies  map[string]ccs.Value
	commands []string
}

func (s *stubTarget) lookup(args []any) ccs.Value {
	key := strings.Fields(fmt.Sprint(args[0]))[0]
	return s.replies[key]
}

func (s *stubTarget) SynchCommand(timeout int, args ...any) (ccs.Value, error) {
	s.commands = append(s.commands, fmt.Sprint(args[0]))
	return s.lookup(args), nil
}

func (s *stubTarget) SynchCommandString(timeout int, args ...any) (string, error) {
	s.commands = append(s.commands, fmt.Sprint(args[0]))
	return s.lookup(args).String(), nil
}

func (s *stubTarget) AsynchCommand(args ...any) error {
	s.commands = append(s.commands, fmt.Sprint(args[0]))
	return nil
}

func TestSubsystemMapping(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "ccs_subsystems.cfg")
	require.NoError(t, os.WriteFile(configFile, []byte(`[ccs_subsystems]
ts8 = ts8
ts = ts
pd = ts/PhotoDiode
mono = ts/Monochromator
rebps = ccs-rebps
`), 0644))

	want := map[string]string{
		"ts8":   "ts8",
		"ts":    "ts",
		"pd":    "ts/PhotoDiode",
		"mono":  "ts/Monochromator",
		"rebps": "ccs-rebps",
	}

	t.Setenv("LCATR_CCS_SUBSYSTEM_CONFIG", configFile)
	mapping, err := SubsystemMapping("")
	require.NoError(t, err)
	assert.Equal(t, want, mapping)

	t.Setenv("LCATR_CCS_SUBSYSTEM_CONFIG", "")
	mapping, err = SubsystemMapping("")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	mapping, err = SubsystemMapping(configFile)
	require.NoError(t, err)
	assert.Equal(t, want, mapping)
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SITENAME", "SLAC")
	t.Setenv("LCATR_JOB", "fe55_raft_acq")
	t.Setenv("LCATR_UNIT_ID", "LCA-11021_RTM-004")
	t.Setenv("LCATR_RUN_NUMBER", "")
	t.Setenv("CCS_TS", "")
	t.Setenv("CCS_ARCHON", "")
	t.Setenv("CCS_VAC_OUTLET", "")
	t.Setenv("CCS_CRYO_OUTLET", "")
	t.Setenv("CCS_PUMP_OUTLET", "")
	t.Setenv("JHCCSUTILSDIR", "/opt/jh-ccs-utils")
}

func TestSetupCommands(t *testing.T) {
	setupEnv(t)
	configDir := t.TempDir()
	t.Setenv("LCATR_CONFIG_DIR", configDir)

	seqFile := filepath.Join(configDir, "e2v.seq")
	require.NoError(t, os.WriteFile(seqFile, []byte("sequencer"), 0644))
	configFile := filepath.Join(t.TempDir(), "acq.cfg")
	require.NoError(t, os.WriteFile(configFile, []byte("e2v_seqfile = e2v.seq\n"), 0644))

	setup, err := NewSetup(configFile)
	require.NoError(t, err)

	commands, err := setup.Commands()
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tsCWD = '%s'", cwd), commands[0])
	assert.Contains(t, commands, "labname = 'SLAC'")
	assert.Contains(t, commands, "jobname = 'fe55_raft_acq'")
	assert.Contains(t, commands, "CCDID = 'LCA-11021_RTM-004'")
	assert.Contains(t, commands, "RUNNUM = no_lcatr_run_number")
	assert.Contains(t, commands, "ts = 'ts'")
	assert.Contains(t, commands, "archon = 'archon'")
	assert.NotContains(t, commands, "vac_outlet")

	seqEntry := fmt.Sprintf("e2v_seqfile = '%s'", mustResolve(t, seqFile))
	assert.Contains(t, commands, seqEntry)

	require.GreaterOrEqual(t, len(commands), 2)
	assert.Equal(t, "import sys", commands[len(commands)-2])
	assert.Equal(t, `sys.path.append("/opt/jh-ccs-utils/python")`, commands[len(commands)-1])
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })
}

func mustResolve(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}

func TestSetupRunNumberQuotedWhenSet(t *testing.T) {
	setupEnv(t)
	t.Setenv("LCATR_RUN_NUMBER", "4005D")
	setup, err := NewSetup("")
	require.NoError(t, err)
	assert.Equal(t, "'4005D'", setup.Get("RUNNUM"))
}

func TestSetupOutletsIncludedWhenConfigured(t *testing.T) {
	setupEnv(t)
	t.Setenv("CCS_VAC_OUTLET", "5")
	setup, err := NewSetup("")
	require.NoError(t, err)
	assert.Equal(t, "5", setup.Get("vac_outlet"))
}

func TestSelectSequencerFilesForE2VRaft(t *testing.T) {
	setupEnv(t)
	cwd := t.TempDir()
	configDir := t.TempDir()
	seqFile := filepath.Join(configDir, "e2v.seq")
	require.NoError(t, os.WriteFile(seqFile, []byte("sequencer"), 0644))

	t.Setenv("LCATR_UNIT_TYPE", "LCA-11021_RTM_e2v")
	s := &Setup{values: make(map[string]string)}
	s.SetQuoted("tsCWD", cwd)
	s.SetQuoted("itl_acffile", filepath.Join(configDir, "itl.acf"))
	s.SetQuoted("e2v_acffile", filepath.Join(configDir, "e2v.acf"))
	s.SetQuoted("itl_seqfile", filepath.Join(configDir, "itl.seq"))
	s.SetQuoted("e2v_seqfile", seqFile)

	require.NoError(t, s.selectSequencerFiles())
	assert.Equal(t, "'E2V'", s.Get("CCSCCDTYPE"))
	assert.Equal(t, s.Get("e2v_acffile"), s.Get("acffile"))
	assert.Equal(t, s.Get("e2v_seqfile"), s.Get("sequence_file"))
	assert.FileExists(t, filepath.Join(cwd, "e2v.seq"))
}

func TestSelectSequencerFilesForSingleSensor(t *testing.T) {
	setupEnv(t)
	t.Setenv("LCATR_UNIT_TYPE", "ITL-CCD")
	s := &Setup{values: make(map[string]string)}
	s.SetQuoted("tsCWD", t.TempDir())
	s.SetQuoted("itl_acffile", "/cfg/itl.acf")
	s.SetQuoted("e2v_acffile", "/cfg/e2v.acf")

	require.NoError(t, s.selectSequencerFiles())
	assert.Equal(t, "'ITL'", s.Get("CCSCCDTYPE"))
	assert.Equal(t, "'/cfg/itl.acf'", s.Get("acffile"))
	assert.Equal(t, "'NA'", s.Get("sequence_file"))
}

func TestWriteREBInfo(t *testing.T) {
	ts8 := &stubTarget{replies: map[string]ccs.Value{
		"getREBDeviceNames": ccs.ListValue([]ccs.Value{
			ccs.StringValue("R00.Reb0"), ccs.StringValue("R00.Reb1"),
		}),
		"getREBHwVersions": ccs.ListValue([]ccs.Value{
			ccs.IntValue(0x31b), ccs.IntValue(0x31b),
		}),
		"getREBSerialNumbers": ccs.ListValue([]ccs.Value{
			ccs.IntValue(0x412e2f), ccs.IntValue(0x412e30),
		}),
	}}

	outfile := filepath.Join(t.TempDir(), "reb_info.txt")
	require.NoError(t, WriteREBInfo(ts8, outfile))

	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	assert.Equal(t, "R00.Reb0  31b  412e2f\nR00.Reb1  31b  412e30\n", string(data))
}

func TestSetCCDInfo(t *testing.T) {
	ts8 := &stubTarget{replies: map[string]ccs.Value{
		"printGeometry":   ccs.StringValue("R00 RTM-004\nSen00 E2V-CCD250-220 in slot 00"),
		"getChannelValue": ccs.FloatValue(-95.4),
	}}
	rebps := &stubTarget{replies: map[string]ccs.Value{
		"getChannelValue": ccs.FloatValue(49.9),
	}}
	ccdNames := map[string]SensorInfo{
		"S00": {SensorID: "E2V-CCD250-220", ManufacturerSN: "12-345"},
	}

	require.NoError(t, SetCCDInfo(ts8, rebps, ccdNames, nil))

	assert.Contains(t, ts8.commands, "setLsstSerialNumber E2V-CCD250-220 E2V-CCD250-220")
	assert.Contains(t, ts8.commands, "setManufacturerSerialNumber E2V-CCD250-220 12-345")
	assert.Contains(t, ts8.commands, "getChannelValue R00.Reb0.CCDTemp0")
	assert.Contains(t, ts8.commands, "setMeasuredCCDTemperature E2V-CCD250-220 -95.4")
	assert.Contains(t, rebps.commands, "getChannelValue REB0.hvbias.VbefSwch")
	assert.Contains(t, ts8.commands, "setMeasuredCCDBSS E2V-CCD250-220 49.9")
}

type fakeRunner struct {
	setup  []string
	path   string
	output string
	faults []string
}

func (f *fakeRunner) ExecScriptSync(path string, setup ...string) (*ccs.ExecutionResult, error) {
	f.path = path
	f.setup = setup
	return ccs.CompletedResult(f.output, f.faults), nil
}

func TestProducerWritesJobLog(t *testing.T) {
	setupEnv(t)
	configDir := t.TempDir()
	t.Setenv("LCATR_CONFIG_DIR", configDir)
	t.Setenv("LCATR_INSTALL_AREA", "/opt/jobs")
	t.Setenv("LCATR_VERSION", "v1.2.3")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "acq.cfg"), nil, 0644))

	chdir(t, t.TempDir())

	runner := &fakeRunner{output: "acquired 25 frames\n"}
	require.NoError(t, Producer(runner, "fe55_raft_acq", "fe55_acq.py", nil))

	assert.Equal(t, "/opt/jobs/fe55_raft_acq/v1.2.3/fe55_acq.py", runner.path)
	assert.Contains(t, runner.setup, "jobname = 'fe55_raft_acq'")

	data, err := os.ReadFile("fe55_raft_acq.log")
	require.NoError(t, err)
	assert.Equal(t, "acquired 25 frames\n", string(data))
}

func TestProducerSurfacesRemoteFaults(t *testing.T) {
	setupEnv(t)
	configDir := t.TempDir()
	t.Setenv("LCATR_CONFIG_DIR", configDir)
	t.Setenv("LCATR_INSTALL_AREA", "/opt/jobs")
	t.Setenv("LCATR_VERSION", "v1.2.3")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "acq.cfg"), nil, 0644))
	chdir(t, t.TempDir())

	runner := &fakeRunner{
		output: "Traceback\n",
		faults: []string{"java.lang.RuntimeException: CCS subsystem not responding"},
	}
	err := Producer(runner, "dark_raft_acq", "dark_acq.py", nil)

	var faultErr *ccs.RemoteFaultError
	require.ErrorAs(t, err, &faultErr)
	assert.Len(t, faultErr.Faults, 1)
	assert.FileExists(t, "dark_raft_acq.log")
}
