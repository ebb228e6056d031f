// Package cache implements the disk cache that sits between the byte fetcher
// and the decoder. Every locator maps to one file named by the BLAKE3 digest
// of the locator inside a flat root directory. Writes go through a temp file
// + rename so readers never observe a partially written entry, and the
// filesystem (size, modtime) is the only index.
package cache
