// Package execute runs the external packaging and install tools.
//
// Every invocation reports its exit code and the tail of its standard error,
// so callers can stop a multi-step workflow at the first failing tool instead
// of feeding a missing or stale artifact to the next one.
package execute
