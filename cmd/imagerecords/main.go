// imagerecords converts directories of images to record files, and inspects them.
//
// Usage:
//
//	imagerecords generate --input=DIR --output=DIR [--class_labels] [--image_labels --label_dir=DIR] ...
//	imagerecords inspect [--batch=N] [--epochs=N] [--shuffle] [--schema=labeled] FILE
//
// Run "imagerecords <command> -help" for the flags of each command.
package main

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const usage = `Usage: imagerecords <command> [flags...]

Commands:
  generate  Converts a directory of images to a record file.
  inspect   Reads a record file in batches and prints a report.

See "imagerecords <command> -help" for the flags of each command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	defer klog.Flush()
	switch cmd := os.Args[1]; cmd {
	case "generate":
		runGenerate(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
	default:
		klog.Errorf("Unknown command %q. See 'imagerecords help'.", cmd)
		klog.Flush()
		os.Exit(1)
	}
}
