package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Write renders results as json, csv or table.
func Write(results []Result, format string, w io.Writer) error {
	switch format {
	case "json":
		return WriteJSON(results, w)
	case "csv":
		return WriteCSV(results, w)
	case "table", "":
		WriteTable(results, w)
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes results to w in JSON format.
func WriteJSON(results []Result, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// WriteCSV writes results in CSV format.
func WriteCSV(results []Result, w io.Writer) error {
	c := csv.NewWriter(w)
	if err := c.Write([]string{"name", "n", "ns_per_op", "bytes_per_op", "records"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := c.Write(row(r)); err != nil {
			return err
		}
	}
	c.Flush()
	return c.Error()
}

// WriteTable renders results as a text table.
func WriteTable(results []Result, w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Benchmark", "N", "ns/op", "bytes/op", "Records"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, r := range results {
		table.Append(row(r))
	}
	table.Render()
}

func row(r Result) []string {
	return []string{
		r.Name,
		strconv.Itoa(r.N),
		strconv.FormatInt(r.NsPerOp.Nanoseconds(), 10),
		strconv.FormatInt(r.BytesPerOp, 10),
		strconv.Itoa(r.Records),
	}
}
