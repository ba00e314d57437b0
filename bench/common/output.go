package common

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// BenchmarkResult holds the formatted benchmark results.
type BenchmarkResult struct {
	Strategy            string  `json:"strategy"`
	Duration            string  `json:"duration"`
	RoundTrips          int64   `json:"round_trips"`
	PlainBytes          int64   `json:"plain_bytes"`
	ContainerBytes      int64   `json:"container_bytes"`
	CompressionRatio    float64 `json:"compression_ratio"`
	RoundTripsPerSecond float64 `json:"round_trips_per_second"`
	MBPerSecond         float64 `json:"mb_per_second"`
	ExportP50           string  `json:"export_p50"`
	ExportP99           string  `json:"export_p99"`
	ExportMax           string  `json:"export_max"`
	ImportP50           string  `json:"import_p50"`
	ImportP99           string  `json:"import_p99"`
	ImportMax           string  `json:"import_max"`
	Errors              int64   `json:"errors"`
}

// PrintResults outputs the round trip benchmark results.
func PrintResults(w io.Writer, strategy string, stats *Stats, format string) error {
	exp, imp := stats.ExportLatency(), stats.ImportLatency()
	result := BenchmarkResult{
		Strategy:            strategy,
		Duration:            stats.Duration().String(),
		RoundTrips:          stats.RoundTrips(),
		PlainBytes:          stats.PlainBytes(),
		ContainerBytes:      stats.ContainerBytes(),
		CompressionRatio:    stats.CompressionRatio(),
		RoundTripsPerSecond: stats.RoundTripsPerSecond(),
		MBPerSecond:         stats.MBPerSecond(),
		ExportP50:           exp.P50.String(),
		ExportP99:           exp.P99.String(),
		ExportMax:           exp.Max.String(),
		ImportP50:           imp.P50.String(),
		ImportP99:           imp.P99.String(),
		ImportMax:           imp.Max.String(),
		Errors:              stats.Errors(),
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		return printText(w, result)
	}
}

func printText(out io.Writer, r BenchmarkResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "=== Round Trip Benchmark Results (%s) ===\n", r.Strategy)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:\t%s\n", r.Duration)
	fmt.Fprintf(w, "Round Trips:\t%s\n", humanize.Comma(r.RoundTrips))
	fmt.Fprintf(w, "Markup:\t%s\n", humanize.Bytes(uint64(r.PlainBytes)))
	fmt.Fprintf(w, "Containers:\t%s (%.2f of markup)\n", humanize.Bytes(uint64(r.ContainerBytes)), r.CompressionRatio)
	fmt.Fprintf(w, "Throughput:\t%s round trips/sec\n", humanize.CommafWithDigits(r.RoundTripsPerSecond, 2))
	fmt.Fprintf(w, "Bandwidth:\t%.2f MB/sec\n", r.MBPerSecond)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "--- Export Latency ---")
	fmt.Fprintf(w, "P50:\t%s\n", r.ExportP50)
	fmt.Fprintf(w, "P99:\t%s\n", r.ExportP99)
	fmt.Fprintf(w, "Max:\t%s\n", r.ExportMax)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "--- Import Latency ---")
	fmt.Fprintf(w, "P50:\t%s\n", r.ImportP50)
	fmt.Fprintf(w, "P99:\t%s\n", r.ImportP99)
	fmt.Fprintf(w, "Max:\t%s\n", r.ImportMax)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Errors:\t%d\n", r.Errors)
	fmt.Fprintln(w, "")
	return w.Flush()
}
