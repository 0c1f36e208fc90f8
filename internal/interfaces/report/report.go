package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"jan-server/tools/model-updater/internal/domain/bulkupdate"
	"jan-server/tools/model-updater/internal/domain/model"

	"gopkg.in/yaml.v3"
)

// Format names an output rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// WriteSummary renders a run summary.
func WriteSummary(w io.Writer, summary *bulkupdate.Summary, format Format) error {
	if summary == nil {
		return nil
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summary); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return writeText(w, summary)
	default:
		return fmt.Errorf("unsupported summary format %q", format)
	}
}

func writeText(w io.Writer, s *bulkupdate.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Model update summary (run %s)\n", s.RunID)
	fmt.Fprintf(tw, "  mode:\t%s\n", s.Mode)
	fmt.Fprintf(tw, "  considered:\t%d\n", s.Considered)
	fmt.Fprintf(tw, "  skipped:\t%d\n", s.Skipped)
	if s.DryRun {
		fmt.Fprintf(tw, "  planned:\t%d (dry run, nothing written)\n", len(s.Planned))
	} else {
		fmt.Fprintf(tw, "  succeeded:\t%d\n", len(s.Succeeded))
		fmt.Fprintf(tw, "  failed:\t%d\n", len(s.Failed))
	}
	fmt.Fprintf(tw, "  duration:\t%s\n", s.Duration.Round(1e6))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Failed) > 0 {
		fmt.Fprintln(w, "Failed:")
		for _, f := range s.Failed {
			fmt.Fprintf(w, "  - %s: %s\n", f.ID, f.Detail)
		}
	}
	if s.Aborted {
		fmt.Fprintln(w, "Run aborted before all updates were attempted.")
	}
	return nil
}

// WriteRecords prints a table of records.
func WriteRecords(w io.Writer, records []model.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBASE MODEL")
	for _, rec := range records {
		base, ok := rec.BaseModelID()
		if !ok {
			base = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.ID, rec.Name, base)
	}
	return tw.Flush()
}

// WriteRecord prints one record's full payload.
func WriteRecord(w io.Writer, rec *model.Record, format Format) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec.Payload)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rec.Payload); err != nil {
		return err
	}
	return enc.Close()
}
