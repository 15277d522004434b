// Package guard keeps concurrent runs apart.
//
// A marker file in the temp directory stops two debpack runs from writing the
// same artifact, and a process scan refuses to start an install while dpkg or
// apt already holds the package database.
package guard
