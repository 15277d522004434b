// Package config defines the settings that drive a debpack run and provides
// helpers to load, validate and save them in YAML format.
//
// Defaults reproduce the fixed layout of the build: the source tree is the
// parent of the invocation directory and the artifact lands in
// build/python_runner.deb under it.
package config
