// Command planc compiles a YAML graph description into a binary plan.
//
//	planc -in model.yaml -out model.plan
//
// The written plan is decoded and compiled against the built-in kernels
// before planc reports success, so a plan planc accepts will load.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/graph"
	"github.com/SyedDaiam9101/ignition/internal/kernels"
	"github.com/SyedDaiam9101/ignition/internal/plan"
)

func main() {
	klog.InitFlags(nil)
	in := flag.String("in", "", "YAML graph description")
	out := flag.String("out", "", "Output plan path (default: input with .plan extension)")
	flag.Parse()

	if err := run(context.Background(), *in, *out); err != nil {
		fmt.Fprintf(os.Stderr, "planc: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in, out string) error {
	log := klog.FromContext(ctx)
	if in == "" {
		return fmt.Errorf("-in is required")
	}
	if out == "" {
		out = trimExt(in) + ".plan"
	}

	src, err := plan.ParseSourceFile(in)
	if err != nil {
		return err
	}
	p, err := src.Build()
	if err != nil {
		return fmt.Errorf("building %s: %w", in, err)
	}
	// Compile before writing so an invalid graph leaves no file behind.
	if _, err := graph.Compile(p, kernels.NewDefaultRegistry(), 0); err != nil {
		return err
	}
	if err := plan.WriteFile(out, p); err != nil {
		return err
	}

	loaded, err := plan.Load(out)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", out, err)
	}
	log.Info("Wrote plan",
		"path", out,
		"checksum", fmt.Sprintf("%016x", loaded.Checksum),
		"inputs", len(loaded.Inputs),
		"outputs", len(loaded.Outputs),
		"nodes", len(loaded.Nodes),
		"weightBytes", loaded.WeightBytes())
	return nil
}

func trimExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}
