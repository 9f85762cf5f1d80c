package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	cfg := defaultGenerateConfig()
	cfg.registerFlags(fs)
	flagConfig := fs.String("config", "",
		"YAML file with the configuration, using the flag names as keys. Flags set explicitly take precedence.")
	klog.InitFlags(fs)
	must.M(fs.Parse(args))
	if fs.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'imagerecords generate -help'.", fs.Args())
		klog.Flush()
		os.Exit(1)
	}
	if *flagConfig != "" {
		must.M(loadConfigFile(fs, *flagConfig, &cfg))
	}
	if cfg.Input == "" || cfg.Output == "" {
		klog.Errorf("Both --input and --output must be given. See 'imagerecords generate -help'.")
		klog.Flush()
		os.Exit(1)
	}

	generator := must.M1(cfg.generator())
	summary, err := generator.Generate(cfg.Name)
	if err != nil {
		klog.Fatalf("Failed to generate records: %+v", err)
	}

	fmt.Println(titleStyle.Render("Generated"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("records file", summary.Path)
	table.Row("# records", humanize.Comma(summary.NumRecords))
	if summary.LabelPath != "" {
		table.Row("label images file", summary.LabelPath)
		table.Row("# label images", humanize.Comma(summary.NumLabelRecords))
	}
	table.Row("format", cfg.Format)
	if cfg.Resize != "" {
		table.Row("resized to", cfg.Resize)
	}
	table.Row("# bytes", humanize.Bytes(uint64(summary.NumBytes)))
	if len(summary.Skipped) > 0 {
		table.Row("# skipped", humanize.Comma(int64(len(summary.Skipped))))
		table.Row("skipped", strings.Join(summary.Skipped, ", "))
	}
	fmt.Println(table.Render())
}
