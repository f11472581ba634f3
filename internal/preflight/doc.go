// Package preflight provides readiness checks for the filesystem paths,
// external tools and queue database vidpipe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check.
//   - The CLI "vidpipe doctor" command renders RunAll, CheckSystemDeps and
//     CheckAPI results as a table.
//
// The watch directory is only checked when watch ingestion is enabled.
package preflight
