package siteutils

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/schema"
)

// PackageVersions reads the installed-versions INI file and returns one
// package_versions record per entry. A missing file yields no records, not
// an error; an empty versionsFile means installed_versions.txt under
// INST_DIR.
func PackageVersions(versionsFile string) ([]schema.Record, error) {
	if versionsFile == "" {
		instDir, err := getenvRequired("INST_DIR")
		if err != nil {
			return nil, err
		}
		versionsFile = filepath.Join(instDir, "installed_versions.txt")
	}
	if _, err := os.Stat(versionsFile); err != nil {
		return nil, nil
	}
	cfg, err := ini.Load(versionsFile)
	if err != nil {
		return nil, fmt.Errorf("siteutils: load %s: %w", versionsFile, err)
	}
	var results []schema.Record
	for _, section := range cfg.Sections() {
		for _, key := range section.Keys() {
			results = append(results, schema.Valid("package_versions",
				schema.F("package", key.Name()),
				schema.F("version", key.String())))
		}
	}
	return results, nil
}

// ParsePackageVersionsSummary extracts the package versions recorded in a
// summary.lims file. Nil when the summary carries none.
func ParsePackageVersionsSummary(summaryLimsFile string) (map[string]string, error) {
	data, err := os.ReadFile(summaryLimsFile)
	if err != nil {
		return nil, fmt.Errorf("siteutils: read summary: %w", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("siteutils: parse summary: %w", err)
	}
	versions := make(map[string]string)
	for _, entry := range entries {
		if entry["schema_name"] != "package_versions" {
			continue
		}
		pkg, _ := entry["package"].(string)
		version, _ := entry["version"].(string)
		versions[pkg] = version
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return versions, nil
}

// PersistCCSVersions appends package_versions records parsed from the
// key = value lines of the CCS version dump.
func PersistCCSVersions(results []schema.Record, versionFile string) ([]schema.Record, error) {
	if versionFile == "" {
		versionFile = "ccs_versions.txt"
	}
	fd, err := os.Open(versionFile)
	if err != nil {
		return nil, fmt.Errorf("siteutils: version file not found: %w", err)
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		results = append(results, schema.Valid("package_versions",
			schema.F("package", strings.TrimSpace(key)),
			schema.F("version", strings.TrimSpace(value))))
	}
	return results, scanner.Err()
}

// PersistREBInfo appends the REBVersionsBefore record built from the REB
// info dump: one line per REB with device name, firmware version and
// manufacturer serial number.
func PersistREBInfo(results []schema.Record, rebInfoFile string) ([]schema.Record, error) {
	if rebInfoFile == "" {
		rebInfoFile = "reb_info.txt"
	}
	fd, err := os.Open(rebInfoFile)
	if err != nil {
		return nil, fmt.Errorf("siteutils: REB info file not found: %w", err)
	}
	defer fd.Close()

	var fields []schema.Field
	scanner := bufio.NewScanner(fd)
	for i := 0; scanner.Scan(); i++ {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) != 3 {
			return nil, fmt.Errorf("siteutils: malformed REB info line %q", scanner.Text())
		}
		fields = append(fields,
			schema.F(fmt.Sprintf("REB%dname", i), tokens[0]),
			schema.F(fmt.Sprintf("REB%dfirmware", i), tokens[1]),
			schema.F(fmt.Sprintf("REB%dSN", i), tokens[2]))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return append(results, schema.Valid("REBVersionsBefore", fields...)), nil
}

// JobInfo assembles the standard per-job records: the installed package
// versions plus the job_info and run_info entries.
func JobInfo() ([]schema.Record, error) {
	results, err := PackageVersions("")
	if err != nil {
		return nil, err
	}
	jobName, err := JobName()
	if err != nil {
		return nil, err
	}
	jobID, err := getenvRequired("LCATR_JOB_ID")
	if err != nil {
		return nil, err
	}
	results = append(results, schema.Valid("job_info",
		schema.F("job_name", jobName),
		schema.F("job_id", jobID)))

	acqRun := os.Getenv("LCATR_ACQ_RUN")
	if acqRun == "" {
		if acqRun, err = RunNumber(); err != nil {
			return nil, err
		}
	}
	skipFe55 := os.Getenv("LCATR_SKIP_FE55_ANALYSIS")
	if skipFe55 == "" {
		skipFe55 = "False"
	}
	useUnitGains := os.Getenv("LCATR_USE_UNIT_GAINS")
	if useUnitGains == "" {
		useUnitGains = skipFe55
	}
	results = append(results, schema.Valid("run_info",
		schema.F("acq_run", acqRun),
		schema.F("use_unit_gains", useUnitGains)))
	return results, nil
}
