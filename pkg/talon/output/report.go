package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/talonsec/talon/pkg/talon/types"
)

// Report formats the end-of-run summary.
type Report interface {
	Write(w io.Writer, s *types.Summary) error
}

// ReportFor returns the report format for the given name.
func ReportFor(name string) (Report, error) {
	switch name {
	case "plain", "":
		return PlainReport{}, nil
	case "json":
		return JSONReport{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", name)
	}
}

// PlainReport writes the summary as human-readable text, mirroring the
// tail of a clamscan run.
type PlainReport struct{}

// Write implements Report.
func (PlainReport) Write(w io.Writer, s *types.Summary) error {
	header := "----------- SCAN SUMMARY -----------"
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	fmt.Fprintf(w, "Scanned directories: %d\n", s.DirsScanned)
	fmt.Fprintf(w, "Scanned files: %d\n", s.FilesScanned)
	fmt.Fprintf(w, "Infected files: %d\n", s.Infected)
	if s.ScanErrors > 0 {
		fmt.Fprintf(w, "Scan errors: %d\n", s.ScanErrors)
	}
	if s.CacheHits > 0 {
		fmt.Fprintf(w, "Cache hits: %d\n", s.CacheHits)
	}
	if s.Quarantined > 0 {
		fmt.Fprintf(w, "Quarantined: %d\n", s.Quarantined)
	}
	fmt.Fprintf(w, "Data scanned: %s\n", s.HumanBytes())
	fmt.Fprintf(w, "Time: %.3fs\n", s.Elapsed.Seconds())
	if s.Cancelled {
		if _, err := fmt.Fprintln(w, "Scan cancelled"); err != nil {
			return err
		}
	}
	return nil
}

// JSONReport writes the summary as a single JSON document.
type JSONReport struct{}

// Write implements Report.
func (JSONReport) Write(w io.Writer, s *types.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
