package ccstools

import (
	"fmt"
	"os"
	"strings"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
	"github.com/lsst-camera-dh/jh-ccs-utils/pkg/ccs"
)

// valueStrings flattens a list-valued reply into its element renderings.
// A scalar reply becomes a single-element slice.
func valueStrings(v ccs.Value) []string {
	items, ok := v.List()
	if !ok {
		return []string{v.String()}
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.String()
	}
	return out
}

func valueInts(v ccs.Value) ([]int64, error) {
	items, ok := v.List()
	if !ok {
		items = []ccs.Value{v}
	}
	out := make([]int64, len(items))
	for i, item := range items {
		n, ok := item.Int()
		if !ok {
			return nil, fmt.Errorf("ccstools: non-integer element %s", item)
		}
		out[i] = n
	}
	return out, nil
}

// WriteREBInfo writes the REB device names, firmware versions and
// manufacturer serial numbers to a text file for persisting to the eT
// tables. Firmware versions and serial numbers are written in hex. An
// empty outfile means reb_info.txt.
func WriteREBInfo(ts8 ccs.CommandTarget, outfile string) error {
	if outfile == "" {
		outfile = "reb_info.txt"
	}
	namesVal, err := ts8.SynchCommand(10, "getREBDeviceNames")
	if err != nil {
		return err
	}
	fwVal, err := ts8.SynchCommand(10, "getREBHwVersions")
	if err != nil {
		return err
	}
	snVal, err := ts8.SynchCommand(10, "getREBSerialNumbers")
	if err != nil {
		return err
	}
	names := valueStrings(namesVal)
	fwVers, err := valueInts(fwVal)
	if err != nil {
		return err
	}
	serialNums, err := valueInts(snVal)
	if err != nil {
		return err
	}

	var sb strings.Builder
	for i, name := range names {
		if i >= len(fwVers) || i >= len(serialNums) {
			break
		}
		fmt.Fprintf(&sb, "%s  %x  %x\n", name, fwVers[i], serialNums[i])
	}
	return os.WriteFile(outfile, []byte(sb.String()), 0644)
}

// SensorInfo identifies one installed CCD.
type SensorInfo struct {
	SensorID       string
	ManufacturerSN string
}

// SetCCDInfo sets the CCD serial numbers in the CCS code, then reads the
// CCD temperatures and BSS voltages from the ts8 and rebps subsystems and
// sets the measured values alongside. The mapping from CCDs to REBs is
// parsed from the printGeometry report.
func SetCCDInfo(ts8, rebps ccs.CommandTarget, ccdNames map[string]SensorInfo, logger lg.Logger) error {
	if logger == nil {
		logger = lg.Discard
	}
	geo, err := ts8.SynchCommandString(2, "printGeometry 3")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(geo, "\n") {
		if !strings.Contains(line, "Sen") {
			continue
		}
		slot := "S" + line[len(line)-2:]
		ccdID := strings.Split(line, " ")[1]
		sensor, ok := ccdNames[slot]
		if !ok {
			return fmt.Errorf("ccstools: no sensor info for slot %s", slot)
		}
		logger.Info("setting CCD info",
			lg.String("slot", slot), lg.String("ccd", ccdID))

		if _, err := ts8.SynchCommand(2, fmt.Sprintf("setLsstSerialNumber %s %s", ccdID, sensor.SensorID)); err != nil {
			return err
		}
		if _, err := ts8.SynchCommand(2, fmt.Sprintf("setManufacturerSerialNumber %s %s", ccdID, sensor.ManufacturerSN)); err != nil {
			return err
		}

		rebID := int(slot[1] - '0')
		ccdNum := int(slot[2] - '0')
		ccdTemp, err := ts8.SynchCommand(2, fmt.Sprintf("getChannelValue R00.Reb%d.CCDTemp%d", rebID, ccdNum))
		if err != nil {
			return err
		}
		if _, err := ts8.SynchCommand(10, fmt.Sprintf("setMeasuredCCDTemperature %s %s", ccdID, ccdTemp)); err != nil {
			return err
		}

		hv, err := rebps.SynchCommand(10, fmt.Sprintf("getChannelValue REB%d.hvbias.VbefSwch", rebID))
		if err != nil {
			return err
		}
		if _, err := ts8.SynchCommand(10, fmt.Sprintf("setMeasuredCCDBSS %s %s", ccdID, hv)); err != nil {
			return err
		}
	}
	return nil
}
