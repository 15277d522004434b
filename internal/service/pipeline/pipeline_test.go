package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/debpack/internal/archive"
	"github.com/oshokin/debpack/internal/config"
	"github.com/oshokin/debpack/internal/domain/debian"
	"github.com/oshokin/debpack/internal/execute"
	"github.com/oshokin/debpack/internal/service/guard"
	"github.com/oshokin/debpack/internal/testutil"
)

// fakeRunner records tool invocations and plays dpkg-deb by writing a fixture archive.
type fakeRunner struct {
	t        *testing.T
	commands []execute.Command
	deb      testutil.Deb
	fail     map[string]int
}

func (f *fakeRunner) Run(_ context.Context, cmd execute.Command) (*execute.Result, error) {
	f.commands = append(f.commands, cmd)

	if code, ok := f.fail[cmd.Name]; ok {
		return &execute.Result{ExitCode: code}, &execute.ExitError{Tool: cmd.Name, Code: code}
	}

	if cmd.Name == config.DefaultPackager {
		testutil.WriteDeb(f.t, cmd.Args[2], f.deb)
	}

	return &execute.Result{}, nil
}

func (f *fakeRunner) names() []string {
	names := make([]string, 0, len(f.commands))
	for _, cmd := range f.commands {
		names = append(names, cmd.Name)
	}

	return names
}

type workspace struct {
	source     string
	invocation string
	artifact   string
	stdout     *bytes.Buffer
	runner     *fakeRunner
	processes  []ps.Process
}

// newWorkspace lays out <tmp>/python-runner with a valid package tree and
// moves into <tmp>/python-runner/scripts.
func newWorkspace(t *testing.T) *workspace {
	t.Helper()

	root := t.TempDir()
	source := filepath.Join(root, "python-runner")
	testutil.PopulateTestDir(t, source, map[string][]byte{
		"DEBIAN/control":        testutil.ControlFixture("python-runner"),
		"usr/bin/python_runner": []byte("#!/usr/bin/python3\n"),
		"scripts/build.sh":      []byte("#!/bin/sh\n"),
	})

	w := &workspace{
		source:     source,
		invocation: filepath.Join(source, "scripts"),
		artifact:   filepath.Join(source, "build", "python_runner.deb"),
		stdout:     new(bytes.Buffer),
		runner: &fakeRunner{
			t: t,
			deb: testutil.Deb{
				Control:     map[string][]byte{"control": testutil.ControlFixture("python-runner")},
				Data:        map[string][]byte{"usr/bin/python_runner": []byte("#!/usr/bin/python3\n")},
				Compression: testutil.CompressionXZ,
			},
			fail: map[string]int{},
		},
	}

	testutil.Chdir(t, w.invocation)

	return w
}

func (w *workspace) options(t *testing.T, mode Mode) *Options {
	t.Helper()

	list := func() ([]ps.Process, error) { return w.processes, nil }
	find := func(int) (ps.Process, error) { return nil, nil }

	return &Options{
		Mode:   mode,
		Stdout: w.stdout,
		Runner: w.runner,
		Guard:  guard.New(guard.WithMarkerDir(t.TempDir()), guard.WithProcessTable(list, find)),
	}
}

type busyProcess struct{}

func (busyProcess) Pid() int           { return 31337 }
func (busyProcess) PPid() int          { return 1 }
func (busyProcess) Executable() string { return "dpkg" }

// TestRunBuildAndInstall covers the full sequence from the scripts directory.
func TestRunBuildAndInstall(t *testing.T) {
	w := newWorkspace(t)

	require.NoError(t, Run(context.Background(), w.options(t, ModeAll)))

	require.Equal(t, w.invocation+"\n", w.stdout.String())

	require.Len(t, w.runner.commands, 2)
	require.Equal(t, execute.Command{
		Name: "dpkg-deb",
		Args: []string{"--build", w.source, w.artifact},
		Dir:  w.source,
	}, w.runner.commands[0])
	require.Equal(t, execute.Command{
		Name:       "dpkg",
		Args:       []string{"-i", w.artifact},
		Dir:        w.source,
		Privileged: true,
	}, w.runner.commands[1])

	// The working directory moved to the source tree.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, w.source, wd)

	// Only the artifact was written, nothing under the invocation directory.
	require.Equal(t, []string{"build.sh"}, testutil.ListFiles(t, w.invocation))
	require.Equal(t, []string{"python_runner.deb"}, testutil.ListFiles(t, filepath.Join(w.source, "build")))

	summary, err := archive.Inspect(w.artifact)
	require.NoError(t, err)
	require.Equal(t, "python-runner", summary.Control.Name())
}

// TestRunInvalidControl stops before any tool runs and writes nothing.
func TestRunInvalidControl(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(w.source, "DEBIAN", "control"),
		[]byte("Package: python-runner\nArchitecture: all\n"),
		0o644,
	))

	err := Run(context.Background(), w.options(t, ModeAll))
	require.ErrorIs(t, err, debian.ErrMissingField)
	require.Equal(t, 1, execute.ExitCode(err, 1))
	require.Empty(t, w.runner.commands)
	require.NoDirExists(t, filepath.Join(w.source, "build"))
}

// TestRunMissingControl rejects a tree without DEBIAN/control.
func TestRunMissingControl(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.RemoveAll(filepath.Join(w.source, "DEBIAN")))

	err := Run(context.Background(), w.options(t, ModeAll))
	require.ErrorIs(t, err, debian.ErrNoControl)
	require.Empty(t, w.runner.commands)
}

// TestRunOutputDirNotCreatable skips both tools when build/ cannot be a directory.
func TestRunOutputDirNotCreatable(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(w.source, "build"), []byte("not a dir"), 0o644))

	err := Run(context.Background(), w.options(t, ModeAll))
	require.ErrorIs(t, err, os.ErrExist)
	require.Empty(t, w.runner.commands)
}

// TestRunOutputDirNotCreatedWhenDisabled fails when creation is turned off.
func TestRunOutputDirNotCreatedWhenDisabled(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(w.invocation, "settings.yaml"),
		[]byte("create_output_dir: false\n"),
		0o644,
	))

	opts := w.options(t, ModeAll)
	opts.ConfigPath = filepath.Join(w.invocation, "settings.yaml")

	err := Run(context.Background(), opts)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Empty(t, w.runner.commands)
}

// TestRunBuildFailureSkipsInstall propagates the packaging tool's exit status.
func TestRunBuildFailureSkipsInstall(t *testing.T) {
	w := newWorkspace(t)
	w.runner.fail["dpkg-deb"] = 2

	err := Run(context.Background(), w.options(t, ModeAll))
	require.Error(t, err)
	require.Equal(t, 2, execute.ExitCode(err, 1))
	require.Equal(t, []string{"dpkg-deb"}, w.runner.names())
}

// TestRunInstallFailure propagates the install tool's exit status.
func TestRunInstallFailure(t *testing.T) {
	w := newWorkspace(t)
	w.runner.fail["dpkg"] = 1

	err := Run(context.Background(), w.options(t, ModeAll))
	require.Equal(t, 1, execute.ExitCode(err, 0))
	require.Equal(t, []string{"dpkg-deb", "dpkg"}, w.runner.names())
}

// TestRunArtifactMismatch refuses to install an archive of another package.
func TestRunArtifactMismatch(t *testing.T) {
	w := newWorkspace(t)
	w.runner.deb.Control["control"] = testutil.ControlFixture("something-else")

	err := Run(context.Background(), w.options(t, ModeAll))
	require.ErrorIs(t, err, ErrArtifactMismatch)
	require.Equal(t, []string{"dpkg-deb"}, w.runner.names())
}

// TestRunPackageManagerBusy refuses to install while dpkg runs.
func TestRunPackageManagerBusy(t *testing.T) {
	w := newWorkspace(t)
	w.processes = []ps.Process{busyProcess{}}

	err := Run(context.Background(), w.options(t, ModeAll))
	require.ErrorIs(t, err, guard.ErrPackageManagerBusy)
	require.Equal(t, []string{"dpkg-deb"}, w.runner.names())
}

// TestRunBuildOnly never touches the package database.
func TestRunBuildOnly(t *testing.T) {
	w := newWorkspace(t)

	require.NoError(t, Run(context.Background(), w.options(t, ModeBuild)))
	require.Equal(t, []string{"dpkg-deb"}, w.runner.names())
	require.FileExists(t, w.artifact)
}

// TestRunInstallOnly installs an existing artifact, relative to the invocation directory.
func TestRunInstallOnly(t *testing.T) {
	w := newWorkspace(t)
	testutil.WriteDeb(t, filepath.Join(w.invocation, "prebuilt.deb"), w.runner.deb)

	opts := w.options(t, ModeInstall)
	opts.ArtifactPath = "prebuilt.deb"

	require.NoError(t, Run(context.Background(), opts))
	require.Len(t, w.runner.commands, 1)
	require.Equal(t, []string{"-i", filepath.Join(w.invocation, "prebuilt.deb")}, w.runner.commands[0].Args)
	require.True(t, w.runner.commands[0].Privileged)
}

// TestRunInstallMissingArtifact fails without calling dpkg.
func TestRunInstallMissingArtifact(t *testing.T) {
	w := newWorkspace(t)

	err := Run(context.Background(), w.options(t, ModeInstall))
	require.ErrorIs(t, err, ErrArtifactMissing)
	require.Empty(t, w.runner.commands)
}

// TestRunOverrides honors an explicit source tree and artifact name.
func TestRunOverrides(t *testing.T) {
	w := newWorkspace(t)

	opts := w.options(t, ModeBuild)
	opts.SourceDir = w.source
	opts.PackageFile = "hello.deb"
	opts.OutputDir = "dist"

	require.NoError(t, Run(context.Background(), opts))
	require.FileExists(t, filepath.Join(w.source, "dist", "hello.deb"))
}

// TestModeString names every mode for logs.
func TestModeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "build+install", ModeAll.String())
	require.Equal(t, "build", ModeBuild.String())
	require.Equal(t, "install", ModeInstall.String())
	require.Equal(t, "mode(7)", Mode(7).String())
}
