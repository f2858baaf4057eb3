package siteutils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParfileCasting(t *testing.T) {
	parfile := writeFile(t, t.TempDir(), "pars_test.txt", `[Default]
integer = 3
floating_point = 5e-4
string_value = foobar

[Case 1]
integer = 5
floating_point = 126.1
string_value = test string
`)

	pars, err := Parfile(parfile, "Default")
	require.NoError(t, err)
	i, ok := pars["integer"].Int()
	require.True(t, ok)
	assert.Equal(t, int64(3), i)
	f, ok := pars["floating_point"].Float()
	require.True(t, ok)
	assert.Equal(t, 5e-4, f)
	assert.Equal(t, "foobar", pars["string_value"].Interface())

	pars, err = Parfile(parfile, "Case 1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), pars["integer"].Interface())
	assert.Equal(t, 126.1, pars["floating_point"].Interface())
	assert.Equal(t, "test string", pars["string_value"].Interface())
}

func TestCastNone(t *testing.T) {
	assert.Equal(t, ccs.KindNull, Cast("None").Kind())
	assert.Equal(t, ccs.KindString, Cast("5E-4").Kind()) // historical quirk: uppercase exponent is not numeric
}

func TestPNGDataProduct(t *testing.T) {
	dataProduct := "median_dark"
	lsstNum := "E2V-CCD250-264"

	t.Setenv("LCATR_RUN_NUMBER", "4005D")
	pngfile := lsstNum + "_4005D_" + dataProduct + ".png"
	assert.Equal(t, dataProduct, PNGDataProduct(pngfile, lsstNum))

	t.Setenv("LCATR_RUN_NUMBER", "")
	pngfile = lsstNum + "_" + dataProduct + ".png"
	assert.Equal(t, dataProduct, PNGDataProduct(pngfile, lsstNum))
}

func TestCcdVendor(t *testing.T) {
	tests := []struct {
		unitType string
		vendor   string
		wantErr  bool
	}{
		{"ITL-CCD", "ITL", false},
		{"E2V-CCD250", "E2V", false},
		{"e2v-CCD", "e2v", false},
		{"LCA-11021_RSA", "ITL", false},
		{"LCA-11021_RTM", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.unitType, func(t *testing.T) {
			t.Setenv("LCATR_UNIT_TYPE", tt.unitType)
			vendor, err := CcdVendor()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.vendor, vendor)
		})
	}
}

func TestProcessName(t *testing.T) {
	t.Setenv("LCATR_JOB", "fe55_raft_acq")
	t.Setenv("LCATR_PROCESS_NAME_PREFIX", "")
	t.Setenv("LCATR_PROCESS_NAME_SUFFIX", "")
	t.Setenv("LCATR_RECOVERED_ACQ_DATA", "")

	name, err := ProcessName("")
	require.NoError(t, err)
	assert.Equal(t, "fe55_raft_acq", name)

	t.Setenv("LCATR_PROCESS_NAME_PREFIX", "BOT")
	t.Setenv("LCATR_PROCESS_NAME_SUFFIX", "v2")
	name, err = ProcessName("")
	require.NoError(t, err)
	assert.Equal(t, "BOT_fe55_raft_acq_v2", name)

	t.Setenv("LCATR_PROCESS_NAME_PREFIX", "")
	t.Setenv("LCATR_PROCESS_NAME_SUFFIX", "")
	t.Setenv("LCATR_RECOVERED_ACQ_DATA", "True")
	name, err = ProcessName("")
	require.NoError(t, err)
	assert.Equal(t, "fe55_raft_acq_recovery", name)
}

func TestJobAcqConfigs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acq.cfg", `# comment line
bot_eo_acq_cfg = /lnfs/config/bot_eo_acq.cfg
ccs_subsystems
fe55_exptime = 30
`)
	t.Setenv("LCATR_CONFIG_DIR", dir)

	configs, err := JobAcqConfigs("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"bot_eo_acq_cfg": "/lnfs/config/bot_eo_acq.cfg",
		"fe55_exptime":   "30",
	}, configs)

	botCfg, err := BotEoConfigFile("")
	require.NoError(t, err)
	assert.Equal(t, "/lnfs/config/bot_eo_acq.cfg", botCfg)
}

func TestAnalysisRun(t *testing.T) {
	dir := t.TempDir()
	botCfg := writeFile(t, dir, "bot_eo_acq.cfg", `[ACQUIRE]
ACQ_RUN = 12543

[ANALYSIS_RUNS]
badpixel = 12433
bias = 12433D
`)

	run, err := AnalysisRun("BADPIXEL", botCfg)
	require.NoError(t, err)
	assert.Equal(t, "12433", run)

	run, err = AnalysisRun("linearity", botCfg)
	require.NoError(t, err)
	assert.Equal(t, "", run)
}

func TestDependencyGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "seg_b.fits", "")
	writeFile(t, dir, "seg_a.fits", "")
	writeFile(t, dir, "other.txt", "")

	var out bytes.Buffer
	files, err := DependencyGlob("*.fits", []string{dir},
		GlobOptions{Description: "Bias files:", Sort: true, Out: &out})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "seg_a.fits"), files[0])
	assert.Contains(t, out.String(), "Bias files:")
	assert.Contains(t, out.String(), "seg_b.fits")
}

func TestParsePackageVersionsSummary(t *testing.T) {
	summary := writeFile(t, t.TempDir(), "summary.lims", `[
  {"schema_name": "package_versions", "package": "harnessed-jobs", "version": "0.4.28"},
  {"schema_name": "package_versions", "package": "lcatr-harness", "version": "0.13.0"},
  {"schema_name": "job_info", "job_name": "dark_raft_acq"}
]`)
	versions, err := ParsePackageVersionsSummary(summary)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "0.4.28", versions["harnessed-jobs"])
	assert.Equal(t, "0.13.0", versions["lcatr-harness"])
}

func TestPersistCCSVersions(t *testing.T) {
	versionFile := writeFile(t, t.TempDir(), "ccs_versions.txt",
		"org-lsst-ccs-subsystem-teststand = 1.0.1\norg-lsst-ccs-common = 2.3\n")
	records, err := PersistCCSVersions(nil, versionFile)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "org-lsst-ccs-subsystem-teststand", records[0].Get("package"))
	assert.Equal(t, "1.0.1", records[0].Get("version"))
}

func TestPersistREBInfo(t *testing.T) {
	rebFile := writeFile(t, t.TempDir(), "reb_info.txt",
		"REB0  31b  412e2f\nREB1  31b  412e30\n")
	records, err := PersistREBInfo(nil, rebFile)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "REBVersionsBefore", rec.Schema)
	assert.Equal(t, "REB0", rec.Get("REB0name"))
	assert.Equal(t, "412e30", rec.Get("REB1SN"))
}

func TestExtractJobID(t *testing.T) {
	assert.Equal(t, "85812",
		ExtractJobID("/gpfs/slac/jh_stage/v0/85812/pd-values.txt"))
}
