package siteutils

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
)

// Cast applies the parameter-file value sniffing: the literal None maps to
// null, a token without a decimal point or exponent marker is tried as an
// int, otherwise as a float, and anything unparseable stays a string.
func Cast(value string) ccs.Value {
	if value == "None" {
		return ccs.Null()
	}
	if !strings.Contains(value, ".") && !strings.Contains(value, "e") {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return ccs.IntValue(i)
		}
	} else if f, err := strconv.ParseFloat(value, 64); err == nil {
		return ccs.FloatValue(f)
	}
	return ccs.StringValue(value)
}

// Parfile loads one section of an INI parameter file with cast values.
func Parfile(infile, section string) (map[string]ccs.Value, error) {
	cfg, err := ini.Load(infile)
	if err != nil {
		return nil, fmt.Errorf("siteutils: load %s: %w", infile, err)
	}
	sec, err := cfg.GetSection(section)
	if err != nil {
		return nil, fmt.Errorf("siteutils: %s: %w", infile, err)
	}
	pars := make(map[string]ccs.Value)
	for _, key := range sec.Keys() {
		pars[key.Name()] = Cast(key.String())
	}
	return pars, nil
}

// acqConfigPath resolves the base acquisition config file, defaulting to
// acq.cfg in the LCATR config directory.
func acqConfigPath(baseConfig string) (string, error) {
	if baseConfig != "" {
		return baseConfig, nil
	}
	dir, err := getenvRequired("LCATR_CONFIG_DIR")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "acq.cfg"), nil
}

// JobAcqConfigs parses the acquisition base config into a string map. The
// key = value pairs are parsed by hand rather than as INI, since the
// existing files do not satisfy INI syntax requirements; comment lines and
// lines without an assignment are skipped. Values are returned as strings
// and clients cast as appropriate.
func JobAcqConfigs(baseConfig string) (map[string]string, error) {
	path, err := acqConfigPath(baseConfig)
	if err != nil {
		return nil, err
	}
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("siteutils: open acq config: %w", err)
	}
	defer fd.Close()

	configs := make(map[string]string)
	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(strings.TrimSpace(line), "=")
		configs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return configs, scanner.Err()
}

// BotEoConfigFile retrieves the bot_eo_acq_cfg filename from the acq.cfg
// file. An explicit non-empty argument short-circuits the lookup. An empty
// return with nil error means no BOT EO config is declared.
func BotEoConfigFile(botEoConfigFile string) (string, error) {
	if botEoConfigFile != "" {
		return botEoConfigFile, nil
	}
	path, err := acqConfigPath("")
	if err != nil {
		return "", err
	}
	fd, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("siteutils: open acq config: %w", err)
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "bot_eo_acq_cfg") {
			_, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			return strings.TrimSpace(value), nil
		}
	}
	return "", scanner.Err()
}

// AnalysisRun returns the run number configured for retrieving outputs of a
// previous run, from the ANALYSIS_RUNS section of the BOT EO config file.
// Empty when no run was specified.
func AnalysisRun(targetAnalysisType, botEoConfigFile string) (string, error) {
	path, err := BotEoConfigFile(botEoConfigFile)
	if err != nil || path == "" {
		return "", err
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return "", fmt.Errorf("siteutils: load %s: %w", path, err)
	}
	sec, err := cfg.GetSection("ANALYSIS_RUNS")
	if err != nil {
		return "", nil
	}
	for _, key := range sec.Keys() {
		if strings.EqualFold(key.Name(), targetAnalysisType) {
			return key.String(), nil
		}
	}
	return "", nil
}
