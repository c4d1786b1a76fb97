// Command tablescraper-debug runs table detection and extraction against a
// single page without starting the server.
//
//	tablescraper-debug detect <url|file>
//	tablescraper-debug extract <url|file> <table-id>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tablescraper-debug", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 15*time.Second, "page and frame fetch timeout")
	depth := fs.Int("max-frame-depth", tables.DefaultMaxFrameDepth, "maximum nested frame depth")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: tablescraper-debug [flags] detect <url|file>")
		_, _ = fmt.Fprintln(stderr, "       tablescraper-debug [flags] extract <url|file> <table-id>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		return 2
	}

	loader := tables.NewHTTPLoader(*timeout)
	doc, base, err := loader.Fetch(ctx, rest[1])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load failed: %v\n", err)
		return 1
	}
	detector := tables.NewDetector(loader)
	detector.MaxFrameDepth = *depth
	found := detector.Detect(ctx, doc, base)

	switch rest[0] {
	case "detect":
		return writeJSON(stdout, stderr, tables.Summaries(found))
	case "extract":
		if len(rest) != 3 {
			fs.Usage()
			return 2
		}
		t, ok := tables.FindByID(found, rest[2])
		if !ok {
			_, _ = fmt.Fprintln(stderr, "not found")
			return 1
		}
		return writeJSON(stdout, stderr, tables.Extract(t.Selection))
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		fs.Usage()
		return 2
	}
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "encode failed: %v\n", err)
		return 1
	}
	return 0
}
