// Package lock provides document-level locking so writer steps cannot
// interleave partial writes to the shared artifact.
package lock
