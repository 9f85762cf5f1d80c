package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/imagerecords/pkg/imagerecords"
	"github.com/gomlx/imagerecords/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// generateConfig holds the options of the generate command. It can be loaded from a YAML file
// with --config, and flags given explicitly take precedence over it.
type generateConfig struct {
	Input       string `yaml:"input"`
	Output      string `yaml:"output"`
	Name        string `yaml:"name"`
	ClassLabels bool   `yaml:"class_labels"`
	ImageLabels bool   `yaml:"image_labels"`
	LabelDir    string `yaml:"label_dir"`
	Format      string `yaml:"format"`
	Resize      string `yaml:"resize"`
	SkipInvalid bool   `yaml:"skip_invalid"`
	Atomic      bool   `yaml:"atomic"`
	Progress    bool   `yaml:"progress"`
}

func defaultGenerateConfig() generateConfig {
	return generateConfig{
		Name:     imagerecords.DefaultRecordFileName,
		Format:   imagerecords.RGB.String(),
		Progress: true,
	}
}

// registerFlags binds the fields of cfg to flags in fs. Current values of cfg are used as defaults.
func (cfg *generateConfig) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.Input, "input", cfg.Input, "Directory with the input images.")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "Directory where to write the record files. It is created if needed.")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Name of the record file created in --output.")
	fs.BoolVar(&cfg.ClassLabels, "class_labels", cfg.ClassLabels,
		"Store a class label in each record, parsed from the filename: the integer after the last \"_\", e.g. \"cat_3.jpg\" -> 3.")
	fs.BoolVar(&cfg.ImageLabels, "image_labels", cfg.ImageLabels,
		fmt.Sprintf("Also generate %q in --output, with the images of the same names in --label_dir.",
			imagerecords.LabelRecordFileName))
	fs.StringVar(&cfg.LabelDir, "label_dir", cfg.LabelDir, "Directory with the label images, used with --image_labels.")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Pixel format stored: rgb, bgr, rgba or gray.")
	fs.StringVar(&cfg.Resize, "resize", cfg.Resize,
		"If set, as WIDTHxHEIGHT (e.g. 64x64), images are resized keeping their proportions, and padded.")
	fs.BoolVar(&cfg.SkipInvalid, "skip_invalid", cfg.SkipInvalid,
		"Skip, with a warning, files that are not images or whose names don't encode a label, instead of failing.")
	fs.BoolVar(&cfg.Atomic, "atomic", cfg.Atomic,
		"Write to a temporary file and rename it when complete, so no partial file is left on failure.")
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Display a progress bar.")
}

// generator converts the configuration to an imagerecords.Generator.
func (cfg *generateConfig) generator() (*imagerecords.Generator, error) {
	var dirs [3]string
	for ii, dir := range []string{cfg.Input, cfg.Output, cfg.LabelDir} {
		var err error
		dirs[ii], err = fsutil.ReplaceTildeInDir(dir)
		if err != nil {
			return nil, err
		}
	}
	format, err := imagerecords.ParsePixelFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	width, height, err := parseResize(cfg.Resize)
	if err != nil {
		return nil, err
	}
	return imagerecords.NewGenerator(dirs[0], dirs[1]).
		ClassLabels(cfg.ClassLabels).
		ImageLabels(cfg.ImageLabels, dirs[2]).
		Format(format).
		Resize(width, height).
		SkipInvalid(cfg.SkipInvalid).
		AtomicRename(cfg.Atomic).
		Verbose(cfg.Progress), nil
}

// parseResize parses "WIDTHxHEIGHT". An empty string returns 0, 0.
func parseResize(value string) (width, height int, err error) {
	if value == "" {
		return
	}
	w, h, found := strings.Cut(strings.ToLower(value), "x")
	if !found {
		err = errors.Errorf("invalid resize %q, it must be formatted as WIDTHxHEIGHT", value)
		return
	}
	if _, err = fmt.Sscan(w, &width); err == nil {
		_, err = fmt.Sscan(h, &height)
	}
	if err != nil || width <= 0 || height <= 0 {
		err = errors.Errorf("invalid resize %q, it must be formatted as WIDTHxHEIGHT with positive values", value)
	}
	return
}

// loadConfigFile reads the YAML file in path into cfg, and then re-applies the flags explicitly set
// in fs, so they take precedence over the file. Unknown keys in the file are an error.
func loadConfigFile(fs *flag.FlagSet, path string, cfg any) error {
	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read configuration file")
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err = decoder.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrapf(err, "failed to parse configuration file %q", path)
	}

	for name, value := range explicit {
		if err = fs.Set(name, value); err != nil {
			return errors.Wrapf(err, "failed to re-apply flag --%s", name)
		}
	}
	return nil
}
