/*******************************************************************************
*
* Copyright 2016 Stefan Majewsky <majewsky@gmx.net>
*
* This file is part of Holo.
*
* Holo is free software: you can redistribute it and/or modify it under the
* terms of the GNU General Public License as published by the Free Software
* Foundation, either version 3 of the License, or (at your option) any later
* version.
*
* Holo is distributed in the hope that it will be useful, but WITHOUT ANY
* WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
* A PARTICULAR PURPOSE. See the GNU General Public License for more details.
*
* You should have received a copy of the GNU General Public License along with
* Holo. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

// Command sasconvert is the CLI collaborator around internal/sas,
// internal/column, internal/parquetsink and internal/textsink: argument
// parsing, directory/job dispatch and exit-code discipline are explicitly
// out of the decoder's scope (spec.md §1, §6) and live here instead.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ogier/pflag"

	"github.com/holocm/sas7bdat-go/internal/column"
	"github.com/holocm/sas7bdat-go/internal/parquetsink"
	"github.com/holocm/sas7bdat-go/internal/sas"
	"github.com/holocm/sas7bdat-go/internal/textsink"
)

// jobFile is a TOML batch-job definition for `convert --config`: the same
// options that --out/--sink/etc. set on the command line, given defaults
// that a single invocation can reuse across many input files. Flags passed
// alongside --config win over the file's values.
type jobFile struct {
	Out                 string
	Sink                string
	Columns             []string
	ColumnIndices       []int
	Skip                int
	MaxRows             int   `toml:"max_rows"`
	ParquetRowGroupSize int   `toml:"parquet_row_group_size"`
	ParquetTargetBytes  int64 `toml:"parquet_target_bytes"`
}

func loadJobFile(path string) (jobFile, error) {
	var job jobFile
	_, err := toml.DecodeFile(path, &job)
	if err != nil {
		return jobFile{}, sas.NewError(sas.KindIO, "failed to parse config file '"+path+"'", err)
	}
	return job, nil
}

// Exit codes per spec.md §6.
const (
	exitSuccess        = 0
	exitUsageError     = 2
	exitInvalidInput   = 3
	exitIOError        = 4
	exitSchemaMismatch = 5
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(exitUsageError)
	}

	switch os.Args[1] {
	case "convert":
		os.Exit(runConvert(os.Args[2:]))
	case "inspect":
		os.Exit(runInspect(os.Args[2:]))
	case "--help", "-h", "help":
		printHelp()
		os.Exit(exitSuccess)
	default:
		showError(fmt.Errorf("unrecognized command: '%s'", os.Args[1]))
		printHelp()
		os.Exit(exitUsageError)
	}
}

func printHelp() {
	fmt.Println("Usage: sasconvert <command> <options>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  convert <input> --out <path> [--sink parquet|csv|tsv] [--columns A,B,…]")
	fmt.Println("           [--column-indices …] [--skip N] [--max-rows N]")
	fmt.Println("           [--parquet-row-group-size N] [--parquet-target-bytes N]")
	fmt.Println("           [--config job.toml]")
	fmt.Println("  inspect <input> [--json]")
}

func showError(err error) {
	fmt.Fprintf(os.Stderr, "\x1b[31m\x1b[1m!!\x1b[0m %s\n", err.Error())
}

func showWarning(msg string) {
	fmt.Fprintf(os.Stderr, "\x1b[33m\x1b[1m>>\x1b[0m %s\n", msg)
}

// exitCodeFor maps the core's error taxonomy onto spec.md §6's exit codes.
func exitCodeFor(err error) int {
	var sasErr *sas.Error
	if errors.As(err, &sasErr) {
		switch sasErr.Kind {
		case sas.KindIO:
			return exitIOError
		case sas.KindInvalidHeader, sas.KindInvalidCompressed, sas.KindUnsupportedEncoding:
			return exitInvalidInput
		case sas.KindSchemaMismatch, sas.KindWriterNotClosed:
			return exitSchemaMismatch
		}
	}
	return exitIOError
}

type convertOptions struct {
	inputPath          string
	outPath            string
	sink               string
	columns            []string
	columnIndices      []int
	skip               int
	maxRows            int
	rowGroupSize       int
	targetBytes        int64
}

func runConvert(args []string) int {
	fs := pflag.NewFlagSet("convert", pflag.ContinueOnError)
	config := fs.String("config", "", "TOML file of default options, overridden by any flag given alongside it")
	out := fs.String("out", "", "output path")
	sinkKind := fs.String("sink", "parquet", "output sink: parquet, csv or tsv")
	columns := fs.String("columns", "", "comma-separated column names to keep")
	columnIndices := fs.String("column-indices", "", "comma-separated 0-based column indices to keep")
	skip := fs.Int("skip", 0, "number of leading rows to skip")
	maxRows := fs.Int("max-rows", 0, "maximum number of rows to emit (0: unbounded)")
	rowGroupSize := fs.Int("parquet-row-group-size", column.DefaultRowGroupSize, "rows per Parquet row group")
	targetBytes := fs.Int64("parquet-target-bytes", 0, "target bytes per Parquet row group (0: unbounded)")

	if err := fs.Parse(args); err != nil {
		showError(err)
		return exitUsageError
	}
	if fs.NArg() < 1 {
		showError(errors.New("convert requires an <input> argument"))
		return exitUsageError
	}

	changed := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	opts := convertOptions{
		inputPath:    fs.Arg(0),
		outPath:      *out,
		sink:         *sinkKind,
		skip:         *skip,
		maxRows:      *maxRows,
		rowGroupSize: *rowGroupSize,
		targetBytes:  *targetBytes,
	}

	if *config != "" {
		job, err := loadJobFile(*config)
		if err != nil {
			showError(err)
			return exitInvalidInput
		}
		if opts.outPath == "" {
			opts.outPath = job.Out
		}
		if !changed["sink"] && job.Sink != "" {
			opts.sink = job.Sink
		}
		if len(job.Columns) > 0 {
			opts.columns = job.Columns
		}
		if len(job.ColumnIndices) > 0 {
			opts.columnIndices = job.ColumnIndices
		}
		if !changed["skip"] {
			opts.skip = job.Skip
		}
		if !changed["max-rows"] {
			opts.maxRows = job.MaxRows
		}
		if !changed["parquet-row-group-size"] && job.ParquetRowGroupSize > 0 {
			opts.rowGroupSize = job.ParquetRowGroupSize
		}
		if !changed["parquet-target-bytes"] {
			opts.targetBytes = job.ParquetTargetBytes
		}
	}

	if opts.outPath == "" {
		showError(errors.New("--out is required (directly or via --config)"))
		return exitUsageError
	}
	if *columns != "" {
		opts.columns = strings.Split(*columns, ",")
	}
	if *columnIndices != "" {
		opts.columnIndices = nil
		for _, tok := range strings.Split(*columnIndices, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil {
				showError(fmt.Errorf("invalid --column-indices entry '%s'", tok))
				return exitUsageError
			}
			opts.columnIndices = append(opts.columnIndices, idx)
		}
	}

	if err := convert(opts); err != nil {
		showError(err)
		return exitCodeFor(err)
	}
	return exitSuccess
}

func convert(opts convertOptions) error {
	reader, err := sas.Open(opts.inputPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	schema := reader.Metadata()
	keep, err := selectedColumns(schema, opts.columns, opts.columnIndices)
	if err != nil {
		return err
	}
	schema = schema.Project(keep)

	outFile, err := os.Create(opts.outPath)
	if err != nil {
		return sas.NewError(sas.KindIO, "failed to create output file", err)
	}
	defer outFile.Close()

	var closeSink func() error
	var writeBatch func(*column.StagedBatch) error

	switch opts.sink {
	case "parquet":
		cfg := parquetsink.DefaultConfig()
		if opts.rowGroupSize > 0 {
			cfg.RowGroupSize = opts.rowGroupSize
		}
		cfg.TargetBytes = opts.targetBytes
		sink := parquetsink.Open(outFile, schema, cfg)
		showWarning(fmt.Sprintf("run id %s", sink.RunID))
		writeBatch = sink.WriteBatch
		closeSink = sink.Close
	case "csv":
		sink := textsink.Open(outFile, schema, textsink.DelimiterComma)
		writeBatch = sink.WriteBatch
		closeSink = sink.Close
	case "tsv":
		sink := textsink.Open(outFile, schema, textsink.DelimiterTab)
		writeBatch = sink.WriteBatch
		closeSink = sink.Close
	default:
		return sas.NewError(sas.KindIO, fmt.Sprintf("unknown sink '%s'", opts.sink), nil)
	}

	err = streamBatches(reader, schema, opts, writeBatch)
	if closeErr := closeSink(); err == nil {
		err = closeErr
	}
	return err
}

func streamBatches(reader *sas.Reader, schema *sas.Schema, opts convertOptions, writeBatch func(*column.StagedBatch) error) error {
	source := reader.RawRowSource()
	skipped := 0
	emitted := 0
	wrapped := source
	if opts.skip > 0 || opts.maxRows > 0 {
		wrapped = func() ([]byte, error) {
			for skipped < opts.skip {
				if _, err := source(); err != nil {
					return nil, err
				}
				skipped++
			}
			if opts.maxRows > 0 && emitted >= opts.maxRows {
				return nil, io.EOF
			}
			raw, err := source()
			if err != nil {
				return nil, err
			}
			emitted++
			return raw, nil
		}
	}

	it := column.NewBatchIterator(schema, reader.ByteOrderIsBigEndian(), wrapped, opts.rowGroupSize)
	for {
		batch, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := writeBatch(batch); err != nil {
			return err
		}
	}
}

func selectedColumns(schema *sas.Schema, names []string, indices []int) ([]sas.Column, error) {
	if len(names) == 0 && len(indices) == 0 {
		return schema.Columns, nil
	}
	var out []sas.Column
	for _, name := range names {
		col, ok := schema.ColumnByName(strings.TrimSpace(name))
		if !ok {
			return nil, sas.NewError(sas.KindSchemaMismatch, "unknown column '"+name+"'", nil)
		}
		out = append(out, col)
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(schema.Columns) {
			return nil, sas.NewError(sas.KindSchemaMismatch, fmt.Sprintf("column index %d out of range", idx), nil)
		}
		out = append(out, schema.Columns[idx])
	}
	return out, nil
}

type inspectColumn struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Label  string `json:"label,omitempty"`
	Format string `json:"format,omitempty"`
	Kind   string `json:"kind"`
	Width  int    `json:"width"`
}

type inspectReport struct {
	DatasetName string           `json:"dataset_name"`
	RowCount    uint64           `json:"row_count"`
	Encoding    string           `json:"encoding"`
	Compressed  string           `json:"compressed"`
	Columns     []inspectColumn  `json:"columns"`
	Notes       []string         `json:"notes,omitempty"`
}

func runInspect(args []string) int {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	asJSON := fs.Bool("json", false, "emit machine-readable JSON")
	if err := fs.Parse(args); err != nil {
		showError(err)
		return exitUsageError
	}
	if fs.NArg() < 1 {
		showError(errors.New("inspect requires an <input> argument"))
		return exitUsageError
	}

	reader, err := sas.Open(fs.Arg(0))
	if err != nil {
		showError(err)
		return exitCodeFor(err)
	}
	defer reader.Close()

	schema := reader.Metadata()
	report := inspectReport{
		DatasetName: reader.DatasetName(),
		RowCount:    schema.RowCount,
		Encoding:    string(schema.Encoding),
		Notes:       reader.Notes(),
	}
	switch schema.Compressed {
	case sas.CompressionRLE:
		report.Compressed = "RLE"
	case sas.CompressionRDC:
		report.Compressed = "RDC"
	default:
		report.Compressed = "none"
	}
	for _, col := range schema.Columns {
		report.Columns = append(report.Columns, inspectColumn{
			Index:  col.Index,
			Name:   col.Name,
			Label:  col.Label,
			Format: col.Format,
			Kind:   col.Kind.String(),
			Width:  col.Width,
		})
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			showError(err)
			return exitIOError
		}
		return exitSuccess
	}

	fmt.Printf("dataset: %s  rows: %d  encoding: %s  compression: %s\n", report.DatasetName, report.RowCount, report.Encoding, report.Compressed)
	for _, col := range report.Columns {
		fmt.Printf("  [%d] %-20s %-10s width=%d format=%s\n", col.Index, col.Name, col.Kind, col.Width, col.Format)
	}
	for _, note := range report.Notes {
		showWarning(note)
	}
	return exitSuccess
}
