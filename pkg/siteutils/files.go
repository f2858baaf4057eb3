package siteutils

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/schema"
)

// GlobOptions controls DependencyGlob behavior.
type GlobOptions struct {
	Description string
	Sort        bool
	// Out receives the file listing; nil suppresses it.
	Out io.Writer
}

// DependencyGlob collects the files matching pattern under each dependency
// path, optionally sorted, and prints the list for the job log.
func DependencyGlob(pattern string, paths []string, opts GlobOptions) ([]string, error) {
	var files []string
	for _, dir := range paths {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("siteutils: glob %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	if opts.Sort {
		sort.Strings(files)
	}
	if opts.Out != nil {
		PrintFileList(opts.Out, opts.Description, files, false)
	}
	return files, nil
}

// PrintFileList writes an indented file listing, preceded by the
// description when non-empty.
func PrintFileList(w io.Writer, description string, files []string, useBasename bool) {
	if description != "" {
		fmt.Fprintln(w, description)
	}
	for _, item := range files {
		if useBasename {
			item = filepath.Base(item)
		}
		fmt.Fprintln(w, "  ", item)
	}
}

// ExtractJobID extracts the eTraveler job id from a data catalog path,
// assuming it is the name of the lowest-level folder containing the file.
func ExtractJobID(datacatPath string) string {
	return filepath.Base(filepath.Dir(datacatPath))
}

// PNGDataProduct recovers the data product name from a png filename of the
// form <lsstNum>[_<run>]_<product>.png.
func PNGDataProduct(pngfile, lsstNum string) string {
	prefix := lsstNum
	if run, err := RunNumber(); err == nil {
		withRun := lsstNum + "_" + run
		if strings.HasPrefix(pngfile, withRun) {
			prefix = withRun
		}
	}
	name := strings.TrimSuffix(pngfile, ".png")
	if len(name) <= len(prefix) {
		return ""
	}
	return name[len(prefix)+1:]
}

// PNGFilerefs builds filerefs for png data products, attaching the
// DATA_PRODUCT and LsstId metadata the data catalog registration expects.
func PNGFilerefs(pngFiles []string, lsstID, folder string, metadata map[string]string) ([]schema.Fileref, error) {
	refs := make([]schema.Fileref, 0, len(pngFiles))
	for _, pngFile := range pngFiles {
		md := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			md[k] = v
		}
		md["DATA_PRODUCT"] = PNGDataProduct(filepath.Base(pngFile), lsstID)
		md["LsstId"] = lsstID
		ref, err := schema.MakeFileref(pngFile, folder, "", md)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
