// Package focalplane assembles per-amplifier results across the focal
// plane: channel naming for science and wavefront sensors, amp data
// extraction from persisted job summaries, and per-detector aggregation.
package focalplane

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Segment names in amp-index order for science rasters. Amp 1 reads out
// through C10.
var scienceChannels = strings.Fields("C10 C11 C12 C13 C14 C15 C16 C17 C07 C06 C05 C04 C03 C02 C01 C00")

// Wavefront segment names in ascending order. The detector objects
// shipped with obs_lsst report these reversed relative to the amp index,
// so amp 8 maps to C00.
var wfChannels = strings.Fields("C00 C01 C02 C03 C04 C05 C06 C07")

// IsWavefront reports whether a detector name refers to a corner-raft
// wavefront sensor.
func IsWavefront(detName string) bool {
	return strings.Contains(detName, "SW")
}

// ChannelName maps a 1-based amp index to the segment name for the given
// detector.
func ChannelName(detName string, amp int) (string, error) {
	if IsWavefront(detName) {
		if amp < 1 || amp > len(wfChannels) {
			return "", fmt.Errorf("focalplane: %s: amp %d out of range", detName, amp)
		}
		return wfChannels[len(wfChannels)-amp], nil
	}
	if amp < 1 || amp > len(scienceChannels) {
		return "", fmt.Errorf("focalplane: %s: amp %d out of range", detName, amp)
	}
	return scienceChannels[amp-1], nil
}

// Channels returns the segment names of a detector in ascending segment
// order.
func Channels(detName string) []string {
	if IsWavefront(detName) {
		return wfChannels
	}
	return scienceChannels
}

// ExtractAmpData reads the per-amp results for one schema and field from
// a persisted summary.lims file, keyed by detector name then segment.
func ExtractAmpData(summaryLimsFile, schemaName, fieldName string) (map[string]map[string]float64, error) {
	data, err := os.ReadFile(summaryLimsFile)
	if err != nil {
		return nil, fmt.Errorf("focalplane: read summary: %w", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("focalplane: parse summary: %w", err)
	}
	ampData := make(map[string]map[string]float64)
	for _, entry := range entries {
		if entry["schema_name"] != schemaName {
			continue
		}
		raft, _ := entry["raft"].(string)
		slot, _ := entry["slot"].(string)
		detName := raft + "_" + slot
		amp, ok := entry["amp"].(float64)
		if !ok {
			return nil, fmt.Errorf("focalplane: %s: missing amp index", detName)
		}
		value, ok := entry[fieldName].(float64)
		if !ok {
			return nil, fmt.Errorf("focalplane: %s: no numeric field %s", detName, fieldName)
		}
		channel, err := ChannelName(detName, int(amp))
		if err != nil {
			return nil, err
		}
		if ampData[detName] == nil {
			ampData[detName] = make(map[string]float64)
		}
		ampData[detName][channel] = value
	}
	return ampData, nil
}

// DetectorStats summarizes one detector's amp values.
type DetectorStats struct {
	DetName string
	Amps    int
	Mean    float64
	Min     float64
	Max     float64
}

// Stats aggregates amp values per detector, fanning the per-detector work
// out across goroutines. Results come back sorted by detector name.
func Stats(ampData map[string]map[string]float64) ([]DetectorStats, error) {
	detNames := make([]string, 0, len(ampData))
	for detName := range ampData {
		detNames = append(detNames, detName)
	}
	sort.Strings(detNames)

	stats := make([]DetectorStats, len(detNames))
	var g errgroup.Group
	for i, detName := range detNames {
		i, detName := i, detName
		g.Go(func() error {
			values := ampData[detName]
			if len(values) == 0 {
				return fmt.Errorf("focalplane: %s: no amp values", detName)
			}
			s := DetectorStats{
				DetName: detName,
				Amps:    len(values),
				Min:     math.Inf(1),
				Max:     math.Inf(-1),
			}
			var sum float64
			for _, v := range values {
				sum += v
				s.Min = math.Min(s.Min, v)
				s.Max = math.Max(s.Max, v)
			}
			s.Mean = sum / float64(len(values))
			stats[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Row is one line of the focal-plane value table: a detector and its amp
// values in ascending segment order, NaN where a segment has no value.
type Row struct {
	DetName string
	Values  []float64
}

// Table arranges amp data into rows ordered by detector name, each row
// carrying the detector's segments in a fixed order so downstream
// renderers can align columns.
func Table(ampData map[string]map[string]float64) []Row {
	detNames := make([]string, 0, len(ampData))
	for detName := range ampData {
		detNames = append(detNames, detName)
	}
	sort.Strings(detNames)

	rows := make([]Row, 0, len(detNames))
	for _, detName := range detNames {
		channels := Channels(detName)
		row := Row{DetName: detName, Values: make([]float64, len(channels))}
		for i, channel := range channels {
			if v, ok := ampData[detName][channel]; ok {
				row.Values[i] = v
			} else {
				row.Values[i] = math.NaN()
			}
		}
		rows = append(rows, row)
	}
	return rows
}
