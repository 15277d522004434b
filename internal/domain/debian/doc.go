// Package debian models the package metadata found in a DEBIAN/control file.
package debian
