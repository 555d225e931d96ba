// Package mmfile maps memory-map dump files for kfsctl.
package mmfile

// MaxSize bounds the files Map accepts. A Multiboot table with a few
// thousand records is well under a megabyte.
const MaxSize = 16 << 20
