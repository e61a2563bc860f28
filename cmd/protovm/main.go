// protovm runs compiled module artifacts on the protovm runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/protovm/manifest"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("protovm", flag.ContinueOnError)
	dir := fs.String("C", ".", "Project directory; "+manifest.FileName+" is looked up from here")
	verbose := fs.Int("v", -1, "Log verbosity (0-5); overrides log.verbosity")
	logFile := fs.String("log", "", "Log to this file instead of stderr")
	timeout := fs.Duration("timeout", 0, "Execution time limit per module, e.g. 5s")
	printResult := fs.Bool("print", false, "Print the entry module's result")
	snapshot := fs.String("snapshot", "", "Write a heap snapshot to this file after the run")
	save := fs.Bool("save-snapshot", false, "Store a heap snapshot in the project's snapshot database")
	serve := fs.Bool("serve", false, "Keep the runtime alive behind the introspection server")
	listen := fs.String("listen", "", "Introspection server address (default server.listen or localhost:7070)")
	noColor := fs.Bool("no-color", false, "Disable colored output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: protovm [options] [module.pvmb]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a module artifact, or the project's entry module from %s.\n\n", manifest.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  protovm -print build/main.pvmb         # Run one artifact\n")
		fmt.Fprintf(os.Stderr, "  protovm -C ./app -timeout 2s           # Run a project's entry module\n")
		fmt.Fprintf(os.Stderr, "  protovm -snapshot heap.pvmb main.pvmb  # Dump the heap afterwards\n")
		fmt.Fprintf(os.Stderr, "  protovm -serve -listen :7070           # Inspect the heap over HTTP/JSON\n")
	}
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return exitFatal
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFatal
	}

	verbosity := 0
	var path *string
	useColor := isatty.IsTerminal(os.Stderr.Fd()) && !*noColor
	if m != nil {
		verbosity = m.Log.Verbosity
		if m.Log.File != "" {
			p := m.Path(m.Log.File)
			path = &p
		}
		if m.Log.Color != nil {
			useColor = *m.Log.Color && !*noColor
		}
	}
	if *verbose >= 0 {
		verbosity = *verbose
	}
	if *logFile != "" {
		path = logFile
	}
	commonlog.Configure(verbosity, path)

	r := &Runner{
		Manifest:     m,
		Entry:        fs.Arg(0),
		Timeout:      *timeout,
		Print:        *printResult,
		SnapshotFile: *snapshot,
		SaveSnapshot: *save,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Color:        useColor,
	}
	if *serve {
		r.Listen = *listen
		if r.Listen == "" && m != nil {
			r.Listen = m.Server.Listen
		}
		if r.Listen == "" {
			r.Listen = "localhost:7070"
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx)
}
