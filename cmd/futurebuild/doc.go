// Command futurebuild builds and serves the futurecoder course platform.
//
// "futurebuild build" runs the whole pipeline: it copies the source tree into
// the working copy, installs the backend and frontend dependencies, generates
// the course assets, bundles the frontend, and overlays the course service
// worker onto the bundle. The process exits with the failing tool's exit
// status so scripts and CI can react to it. "futurebuild serve" starts the
// result. Supporting commands print the stage plan, run history, and a
// readiness report.
package main
