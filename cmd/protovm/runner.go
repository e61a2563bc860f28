package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"github.com/chazu/protovm/hostlib"
	"github.com/chazu/protovm/manifest"
	"github.com/chazu/protovm/server"
	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/bcfile"
	"github.com/chazu/protovm/vm/heapdb"
)

var log = commonlog.GetLogger("protovm.cmd")

// Exit codes.
const (
	exitOK       = 0
	exitUncaught = 1 // uncaught script exception
	exitFatal    = 2 // resource exhaustion, bad input or configuration
)

// Runner runs one project: preloaded modules first, then the entry module.
type Runner struct {
	// Manifest may be nil; defaults apply.
	Manifest *manifest.Manifest
	// Entry overrides the manifest's entry module.
	Entry   string
	Timeout time.Duration
	Print   bool

	// SnapshotFile, when set, receives a heap snapshot after the run.
	SnapshotFile string
	// SaveSnapshot stores a snapshot in the project's snapshot database.
	SaveSnapshot bool
	// Listen, when set, keeps the runtime alive behind the introspection
	// server until the context ends.
	Listen string

	Stdout io.Writer
	Stderr io.Writer
	Color  bool
}

// Run executes the project and returns the process exit code.
func (r *Runner) Run(ctx context.Context) int {
	if err := r.run(ctx); err != nil {
		return r.report(err)
	}
	return exitOK
}

func (r *Runner) run(ctx context.Context) error {
	m := r.Manifest
	if m == nil {
		m = &manifest.Manifest{}
		if wd, err := os.Getwd(); err == nil {
			m.Dir = wd
		}
	}
	opts, err := m.Options()
	if err != nil {
		return err
	}
	rt, err := vm.New(opts)
	if err != nil {
		return err
	}
	if _, err := hostlib.Install(rt, hostlib.Config{Stdout: r.Stdout, Stderr: r.Stderr, Color: r.Color}); err != nil {
		return err
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = m.Timeout()
	}

	var resolved []manifest.ResolvedModule
	if len(m.Modules) > 0 {
		if resolved, err = m.ResolveModules(); err != nil {
			return err
		}
	}
	for _, rm := range resolved {
		v, err := runModule(ctx, rt, rm.Module, timeout)
		if err != nil {
			return fmt.Errorf("module %s: %w", rm.Name, err)
		}
		if err := rt.SetGlobal(rm.Name, v); err != nil {
			return err
		}
		log.Infof("loaded module %s from %s", rm.Name, rm.Path)
	}

	entry := r.Entry
	if entry == "" {
		entry = m.EntryPath()
	}
	if entry == "" {
		return errors.New("no module to run: pass a module artifact or set project.entry in " + manifest.FileName)
	}
	mod, err := bcfile.ReadModuleFile(entry)
	if err != nil {
		return err
	}
	result, err := runModule(ctx, rt, mod, timeout)
	if err != nil {
		return err
	}
	if r.Print && result != vm.Undefined {
		fmt.Fprintln(r.Stdout, rt.Display(result))
	}
	log.Infof("%s", hostlib.HeapSummary(rt.HeapStats()))

	var db *heapdb.Store
	if r.SaveSnapshot || r.Listen != "" {
		if db, err = openSnapshotDB(m); err != nil {
			return err
		}
		defer db.Close()
	}
	if r.SnapshotFile != "" || r.SaveSnapshot {
		if err := r.snapshot(rt, db); err != nil {
			return err
		}
	}

	if r.Listen != "" {
		srv := server.New(rt, server.WithSnapshotDB(db))
		defer srv.Stop()
		return srv.ListenAndServe(ctx, r.Listen)
	}
	return nil
}

func runModule(ctx context.Context, rt *vm.Runtime, mod *vm.Module, timeout time.Duration) (vm.Value, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return rt.RunModuleContext(ctx, mod)
}

func openSnapshotDB(m *manifest.Manifest) (*heapdb.Store, error) {
	path := m.Server.SnapshotDB
	if path == "" {
		path = filepath.Join(".protovm", "heap.db")
	}
	path = m.Path(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return heapdb.Open(path)
}

func (r *Runner) snapshot(rt *vm.Runtime, db *heapdb.Store) error {
	snap := rt.TakeSnapshot()
	if r.SnapshotFile != "" {
		if err := bcfile.WriteSnapshotFile(r.SnapshotFile, snap, bcfile.Options{Compress: true}); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		log.Infof("wrote snapshot %s to %s", snap.ID, r.SnapshotFile)
	}
	if r.SaveSnapshot {
		if err := db.Save(snap); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		log.Infof("saved snapshot %s to %s", snap.ID, db.Path())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// report prints err to Stderr and picks the exit code.
func (r *Runner) report(err error) int {
	bold := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)
	if r.Color {
		bold.EnableColor()
		faint.EnableColor()
	} else {
		bold.DisableColor()
		faint.DisableColor()
	}

	var (
		script   *vm.ScriptError
		resource *vm.ResourceError
	)
	switch {
	case errors.As(err, &script):
		bold.Fprintf(r.Stderr, "Uncaught %s\n", script.Error())
		for _, f := range script.Stack {
			faint.Fprintf(r.Stderr, "    %s\n", f)
		}
		script.Release()
		return exitUncaught
	case errors.As(err, &resource):
		bold.Fprint(r.Stderr, "fatal: ")
		fmt.Fprintln(r.Stderr, err)
		return exitFatal
	}
	bold.Fprint(r.Stderr, "error: ")
	fmt.Fprintln(r.Stderr, err)
	return exitFatal
}
