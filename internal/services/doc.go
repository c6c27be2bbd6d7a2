// Package services hosts shared plumbing for docprep components: the error
// taxonomy with wrap helpers, and context annotation for unit-scoped
// operations. Subpackages wrap external tools behind narrow interfaces so
// pipeline code stays testable without the binaries installed.
package services
