package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imagerecords/pkg/imagerecords"
	"github.com/gomlx/imagerecords/pkg/records/features"
	"github.com/gomlx/imagerecords/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var schemasByName = map[string]features.Schema{
	"fixed":       imagerecords.FixedSchema,
	"labeled":     imagerecords.LabeledSchema,
	"label_image": imagerecords.LabelImageSchema,
}

func schemaNames() []string {
	names := make([]string, 0, len(schemasByName))
	for name := range schemasByName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// inspectConfig holds the options of the inspect command.
type inspectConfig struct {
	batchSize, epochs, maxBatches int
	shuffle                       bool
	seed                          int64
	schema                        string
}

func (cfg *inspectConfig) readerFor(path string) (*imagerecords.Reader, error) {
	schema, found := schemasByName[cfg.schema]
	if !found {
		return nil, errors.Errorf("unknown schema %q, valid values are %q", cfg.schema, schemaNames())
	}
	builder := imagerecords.NewReader(path).
		BatchSize(cfg.batchSize).
		Epochs(cfg.epochs).
		Shuffle(cfg.shuffle).
		MaxBatches(cfg.maxBatches).
		Schema(schema)
	if cfg.seed != 0 {
		builder.Random(rand.New(rand.NewSource(cfg.seed)))
	}
	return builder.Done()
}

// registerFlags binds the fields of cfg to flags in fs, with their default values.
func (cfg *inspectConfig) registerFlags(fs *flag.FlagSet) {
	fs.IntVar(&cfg.batchSize, "batch", 1, "Number of records per batch. Incomplete batches at the end are dropped.")
	fs.IntVar(&cfg.epochs, "epochs", 1, "Number of passes over the file. If negative, loops forever (use with --max_batches).")
	fs.BoolVar(&cfg.shuffle, "shuffle", false,
		fmt.Sprintf("Shuffle records, with a window of %d records.", imagerecords.DefaultShuffleWindow))
	fs.Int64Var(&cfg.seed, "seed", 0, "Seed for shuffling. If 0, a time based one is used.")
	fs.StringVar(&cfg.schema, "schema", "fixed",
		fmt.Sprintf("Schema of the records, one of %q. Use \"labeled\" to list the class labels.", schemaNames()))
	fs.IntVar(&cfg.maxBatches, "max_batches", 20, "Maximum number of batches to list. If <= 0, lists all.")
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	var cfg inspectConfig
	cfg.registerFlags(fs)
	klog.InitFlags(fs)
	must.M(fs.Parse(args))
	if fs.NArg() != 1 {
		klog.Errorf("Expected exactly one record file to inspect. See 'imagerecords inspect -help'.")
		klog.Flush()
		os.Exit(1)
	}
	path := must.M1(fsutil.ReplaceTildeInDir(fs.Arg(0)))
	info := must.M1(os.Stat(path))
	if cfg.epochs < 0 && cfg.maxBatches <= 0 {
		klog.Errorf("--epochs=%d requires --max_batches, or it would never end.", cfg.epochs)
		klog.Flush()
		os.Exit(1)
	}

	reader := must.M1(cfg.readerFor(path))
	defer func() { must.M(reader.Close()) }()

	fmt.Println(titleStyle.Render("Batches"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Right)
	table.Headers("#", "Shapes", "Bytes", "Labels")
	var numBatches, numRecords, numBytes int64
	var readErr error
	for batch, err := range reader.Batches() {
		if err != nil {
			readErr = err
			break
		}
		images, err := batch.Images()
		if err != nil {
			readErr = err
			break
		}
		var shapes, labels []string
		var batchBytes int64
		for _, img := range images {
			if shape := img.Shape.String(); !slices.Contains(shapes, shape) {
				shapes = append(shapes, shape)
			}
			if img.HasLabel {
				labels = append(labels, fmt.Sprint(img.Label))
			}
			batchBytes += int64(len(img.Data))
		}
		table.Row(humanize.Comma(numBatches), strings.Join(shapes, " "),
			humanize.Bytes(uint64(batchBytes)), strings.Join(labels, " "))
		numBatches++
		numRecords += int64(batch.Size())
		numBytes += batchBytes
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Summary"))
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("file", path)
	summary.Row("file size", humanize.Bytes(uint64(info.Size())))
	summary.Row("pipeline", reader.Name())
	summary.Row("schema", reader.Schema().String())
	summary.Row("# batches", humanize.Comma(numBatches))
	summary.Row("# records", humanize.Comma(numRecords))
	summary.Row("image bytes", humanize.Bytes(uint64(numBytes)))
	fmt.Println(summary.Render())

	if readErr != nil {
		klog.Errorf("Failed reading %q: %v", path, readErr)
		klog.Flush()
		os.Exit(1)
	}
}
