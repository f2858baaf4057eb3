// Package siteutils provides the site-specific utilities harnessed jobs
// lean on: LCATR_* environment lookup, job and config path construction,
// parameter-file parsing, dependency file globbing and package-version
// bookkeeping.
package siteutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func getenvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("siteutils: %s is not set", key)
	}
	return value, nil
}

// UnitID returns the LCATR unit id, e.g. the sensor or raft serial number.
func UnitID() (string, error) { return getenvRequired("LCATR_UNIT_ID") }

// LSSTID is an alias for UnitID kept for the historical call sites.
func LSSTID() (string, error) { return UnitID() }

// UnitType returns the LCATR hardware type, e.g. "ITL-CCD" or "LCA-11021_RTM".
func UnitType() (string, error) { return getenvRequired("LCATR_UNIT_TYPE") }

// RunNumber returns the eTraveler-assigned run number.
func RunNumber() (string, error) { return getenvRequired("LCATR_RUN_NUMBER") }

// JobName returns the name of the harnessed job.
func JobName() (string, error) { return getenvRequired("LCATR_JOB") }

// SiteName returns the site or laboratory name.
func SiteName() (string, error) { return getenvRequired("SITENAME") }

// ProcessName decorates jobName with the configured prefix and suffix, and
// appends _recovery for recovered acquisition data. An empty jobName means
// the current job.
func ProcessName(jobName string) (string, error) {
	if jobName == "" {
		var err error
		if jobName, err = JobName(); err != nil {
			return "", err
		}
	}
	if prefix := os.Getenv("LCATR_PROCESS_NAME_PREFIX"); prefix != "" {
		jobName = prefix + "_" + jobName
	}
	if suffix := os.Getenv("LCATR_PROCESS_NAME_SUFFIX"); suffix != "" {
		jobName = jobName + "_" + suffix
	}
	if os.Getenv("LCATR_RECOVERED_ACQ_DATA") == "True" && strings.HasSuffix(jobName, "_acq") {
		jobName += "_recovery"
	}
	return jobName, nil
}

// JobDir returns the full path of the harnessed job scripts. An empty
// jobName means the current job.
func JobDir(jobName string) (string, error) {
	if jobName == "" {
		var err error
		if jobName, err = JobName(); err != nil {
			return "", err
		}
	}
	installArea, err := getenvRequired("LCATR_INSTALL_AREA")
	if err != nil {
		return "", err
	}
	version, err := getenvRequired("LCATR_VERSION")
	if err != nil {
		return "", err
	}
	return filepath.Join(installArea, jobName, version), nil
}

// JobDirPath prepends the job directory to fileName.
func JobDirPath(fileName, jobName string) (string, error) {
	dir, err := JobDir(jobName)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// PythonDir returns the directory containing the jython-side scripts of
// this package, used by setup commands to extend the remote sys.path.
func PythonDir() (string, error) {
	base, err := getenvRequired("JHCCSUTILSDIR")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "python"), nil
}

// ConfigDir returns the directory of the site-specific configuration files:
// LCATR_CONFIG_DIR when set, otherwise the site folder under the
// harnessed-jobs install.
func ConfigDir() (string, error) {
	if dir := os.Getenv("LCATR_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := getenvRequired("HARNESSEDJOBSDIR")
	if err != nil {
		return "", err
	}
	site, err := SiteName()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config", site), nil
}

// CcdVendor derives the CCD vendor from the unit type. RSA units without a
// vendor prefix default to ITL.
func CcdVendor() (string, error) {
	unitType, err := UnitType()
	if err != nil {
		return "", err
	}
	vendor := strings.SplitN(unitType, "-", 2)[0]
	isRSA := strings.Contains(strings.ToLower(unitType), "rsa")
	if vendor != "" {
		switch vendor {
		case "ITL", "E2V", "e2v":
			return vendor, nil
		}
	}
	if !isRSA {
		return "", fmt.Errorf("siteutils: unrecognized CCD vendor for unit type %s", unitType)
	}
	return "ITL", nil
}

// LcatrEnvs extracts the LCATR_* environment variables, for forwarding the
// harness runtime environment to wrapped job code.
func LcatrEnvs() map[string]string {
	envs := make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "LCATR") {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		envs[key] = value
	}
	return envs
}
