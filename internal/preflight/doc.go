// Package preflight provides readiness checks for the tools, directories,
// and project files a futurebuild pipeline depends on.
//
// The "futurebuild doctor" command runs RunAll and prints every result; the
// checks never modify the source tree or the working copy. Missing optional
// pieces (an unpinned runtime, a work dir that does not exist yet) are
// reported as passing with an explanatory detail.
package preflight
