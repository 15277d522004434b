// Package archive inspects binary Debian packages built by dpkg-deb.
//
// A .deb is an ar container holding debian-binary, a control tarball and a
// data tarball. Tarballs may be plain or compressed with gzip, xz or zstd;
// dpkg-deb picks the compressor, so the reader accepts all of them.
package archive
