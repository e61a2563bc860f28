package hostlib

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/protovm/vm"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// ---------------------------------------------------------------------------
// console
// ---------------------------------------------------------------------------

func (lib *Library) installConsole() error {
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)
	for _, c := range []*color.Color{warn, fail, dim} {
		if lib.cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	printer := func(w io.Writer, c *color.Color) vm.NativeFunc {
		return func(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
			line := lib.format(args)
			if c != nil {
				line = c.Sprint(line)
			}
			_, err := fmt.Fprintln(w, line)
			return vm.Undefined, err
		}
	}
	return lib.namespace("console", []native{
		{"log", 0, printer(lib.cfg.Stdout, nil)},
		{"info", 0, printer(lib.cfg.Stdout, nil)},
		{"debug", 0, printer(lib.cfg.Stdout, dim)},
		{"warn", 0, printer(lib.cfg.Stderr, warn)},
		{"error", 0, printer(lib.cfg.Stderr, fail)},
		{"heap", 0, func(rt *vm.Runtime, args *vm.Args) (vm.Value, error) {
			_, err := fmt.Fprintln(lib.cfg.Stdout, dim.Sprint(HeapSummary(rt.HeapStats())))
			return vm.Undefined, err
		}},
	})
}

// format joins the arguments with spaces.
func (lib *Library) format(args *vm.Args) string {
	parts := make([]string, args.Len())
	for i := range parts {
		parts[i] = args.Runtime().Display(args.Arg(i))
	}
	return strings.Join(parts, " ")
}

// HeapSummary renders heap statistics on one line.
func HeapSummary(s vm.HeapStats) string {
	return fmt.Sprintf("heap: %s young, %s old, %d cells, %d minor / %d full collections, paused %s",
		humanize.IBytes(uint64(s.YoungBytes)), humanize.IBytes(uint64(s.OldBytes)), s.LiveCells,
		s.MinorCollections, s.FullCollections, s.TotalPause)
}
