// Package pipeline builds a Debian package from a source tree with dpkg-deb
// and installs it with dpkg under elevated privileges.
//
// The run resolves the invocation directory, prints it, moves to its parent
// (the package source tree), builds <source>/build/python_runner.deb and
// installs it. Each tool's exit status is checked, and the run stops at the
// first failing step.
//
// dpkg-deb archives the whole source tree as payload, so the output directory
// and the invocation directory, when they live under it, end up in the package
// and are installed under / by dpkg -i. Run it from a tree that holds only the
// package layout, or point --source elsewhere.
package pipeline
