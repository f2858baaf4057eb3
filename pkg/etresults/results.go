package etresults

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/siteutils"
)

// Amplifier channel names in schema amp-index order. Science rasters have
// 16 channels; wavefront sensors have 8 in plain ascending order.
var (
	ampNames   = strings.Fields("C10 C11 C12 C13 C14 C15 C16 C17 C07 C06 C05 C04 C03 C02 C01 C00")
	wfAmpNames = strings.Fields("C00 C01 C02 C03 C04 C05 C06 C07")
)

// Results holds the harnessed job results of one run, keyed by schema
// name. Each schema maps to its data rows; the schema header entry the
// server prepends is stripped.
type Results map[string][]RawRow

// FetchResults retrieves and indexes the results for a run. The database
// is selected from the run number suffix.
func FetchResults(ctx context.Context, run, user string, opts ...ConnOption) (Results, error) {
	conn := NewConnection(user, DBForRun(run), opts...)
	raw, err := conn.GetRunResults(ctx, run)
	if err != nil {
		return nil, err
	}
	results := make(Results)
	for _, schemaData := range raw.Steps {
		for schemaName, entries := range schemaData {
			if len(entries) > 1 {
				results[schemaName] = append(results[schemaName], entries[1:]...)
			}
		}
	}
	return results, nil
}

func rowString(row RawRow, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowFloat(row RawRow, key string) (float64, bool) {
	switch v := row[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// detChannels returns the channel names for a detector, in amp-index
// order. Wavefront sensors (SW rafts) carry 8 channels.
func detChannels(detName string) []string {
	if strings.Contains(detName, "SW") {
		return wfAmpNames
	}
	return ampNames
}

// AmpData gathers fieldName per detector and channel from the named
// schema. The outer key is the detector name, <raft>_<slot>.
func (r Results) AmpData(schemaName, fieldName string) (map[string]map[string]float64, error) {
	rows, ok := r[schemaName]
	if !ok {
		return nil, fmt.Errorf("etresults: no results for schema %s", schemaName)
	}
	ampData := make(map[string]map[string]float64)
	for _, row := range rows {
		detName := rowString(row, "raft") + "_" + rowString(row, "slot")
		amp, ok := rowFloat(row, "amp")
		if !ok {
			return nil, fmt.Errorf("etresults: %s: missing amp index", schemaName)
		}
		value, ok := rowFloat(row, fieldName)
		if !ok {
			return nil, fmt.Errorf("etresults: %s: no numeric field %s", schemaName, fieldName)
		}
		channels := detChannels(detName)
		i := int(amp) - 1
		if i < 0 || i >= len(channels) {
			return nil, fmt.Errorf("etresults: %s: amp index %d out of range", detName, int(amp))
		}
		if ampData[detName] == nil {
			ampData[detName] = make(map[string]float64)
		}
		ampData[detName][channels[i]] = value
	}
	return ampData, nil
}

// gainFields maps the analysis schema to the column carrying the gains.
var gainFields = map[string]string{
	"fe55_BOT_analysis": "gain",
	"ptc_BOT":           "ptc_gain",
}

// AmpGains returns the measured gains of one detector keyed by amp number,
// counting from 1 in channel order.
func (r Results) AmpGains(detName, schemaName string) (map[int]float64, error) {
	if schemaName == "" {
		schemaName = "fe55_BOT_analysis"
	}
	gainField, ok := gainFields[schemaName]
	if !ok {
		return nil, fmt.Errorf("etresults: no gain field known for schema %s", schemaName)
	}
	ampData, err := r.AmpData(schemaName, gainField)
	if err != nil {
		return nil, err
	}
	detData, ok := ampData[detName]
	if !ok {
		return nil, fmt.Errorf("etresults: no %s data for detector %s", schemaName, detName)
	}
	gains := make(map[int]float64, len(detData))
	for i, ampName := range detChannels(detName) {
		if gain, ok := detData[ampName]; ok {
			gains[i+1] = gain
		}
	}
	return gains, nil
}

// CCDNames queries the hardware hierarchy of the current unit and returns
// the CCD serial numbers and manufacturer serial numbers keyed by slot.
func CCDNames(ctx context.Context, conn *Connection, logger lg.Logger) (map[string]string, map[string]string, error) {
	if logger == nil {
		logger = lg.Discard
	}
	unitID, err := siteutils.UnitID()
	if err != nil {
		return nil, nil, err
	}
	unitType, err := siteutils.UnitType()
	if err != nil {
		return nil, nil, err
	}
	hierarchy, err := conn.GetHardwareHierarchy(ctx, unitID, unitType)
	if err != nil {
		return nil, nil, err
	}

	ccdNames := make(map[string]string)
	ccdManuNames := make(map[string]string)
	for _, item := range hierarchy {
		htype := strings.ToLower(item["child_hardwareTypeName"])
		if !strings.Contains(htype, "itl-ccd") && !strings.Contains(htype, "e2v-ccd") {
			continue
		}
		slot := item["slotName"]
		sn := item["child_experimentSN"]
		logger.Info("found CCD in hierarchy",
			lg.String("slot", slot), lg.String("sn", sn))
		manuSN, err := conn.GetManufacturerID(ctx, sn, item["child_hardwareTypeName"])
		if err != nil {
			logger.Warn("manufacturer id lookup failed",
				lg.String("sn", sn), lg.Err(err))
		}
		ccdNames[slot] = sn
		ccdManuNames[slot] = manuSN
	}
	return ccdNames, ccdManuNames, nil
}

// FilePaths provides the original physical paths of files generated by
// harnessed jobs, queried per run and filtered by glob pattern.
type FilePaths struct {
	user   string
	opts   []ConnOption
	AcqRun string
	resp   map[string]map[string][]FileEntry
	logger lg.Logger
}

// NewFilePaths resolves the acquisition run (LCATR_ACQ_RUN, falling back
// to the ACQUIRE section of the BOT EO config) and queries its file
// paths. When no acquisition run is configured AcqRun stays empty and
// callers must pass explicit runs to QueryRun and Files.
func NewFilePaths(ctx context.Context, user string, logger lg.Logger, opts ...ConnOption) (*FilePaths, error) {
	if logger == nil {
		logger = lg.Discard
	}
	fp := &FilePaths{
		user:   user,
		opts:   opts,
		resp:   make(map[string]map[string][]FileEntry),
		logger: logger,
	}
	fp.AcqRun = acqRun()
	if fp.AcqRun == "" {
		return fp, nil
	}
	if err := fp.QueryRun(ctx, fp.AcqRun); err != nil {
		return nil, err
	}
	return fp, nil
}

// acqRun looks up the configured acquisition run, empty when unset.
func acqRun() string {
	if run := os.Getenv("LCATR_ACQ_RUN"); run != "" {
		return run
	}
	path, err := siteutils.BotEoConfigFile("")
	if err != nil || path == "" {
		return ""
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return ""
	}
	sec, err := cfg.GetSection("ACQUIRE")
	if err != nil {
		return ""
	}
	return sec.Key("ACQ_RUN").String()
}

// QueryRun fetches and caches the registered file paths of a run.
func (fp *FilePaths) QueryRun(ctx context.Context, run string) error {
	conn := NewConnection(fp.user, DBForRun(run), fp.opts...)
	resp, err := conn.GetRunFilepaths(ctx, run)
	if err != nil {
		return err
	}
	fp.resp[run] = resp
	return nil
}

// Files returns the sorted paths a job registered that match the glob
// pattern. An empty run means the acquisition run.
func (fp *FilePaths) Files(jobname, globPattern, run string) ([]string, error) {
	if run == "" {
		run = fp.AcqRun
	}
	entries, ok := fp.resp[run]
	if !ok {
		return nil, fmt.Errorf("etresults: run %q has not been queried", run)
	}
	pattern := strings.NewReplacer("?", ".", "*", ".*").Replace(globPattern)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("etresults: bad glob pattern %q: %w", globPattern, err)
	}
	fp.logger.Debug("matching job files",
		lg.String("job", jobname), lg.String("pattern", globPattern))
	var files []string
	for _, item := range entries[jobname] {
		if re.MatchString(item.OriginalPath) {
			files = append(files, item.OriginalPath)
		}
	}
	sort.Strings(files)
	return files, nil
}
