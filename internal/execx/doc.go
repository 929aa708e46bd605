// Package execx runs the external programs behind each pipeline stage.
//
// Commands receive an explicit working directory and environment; the
// process-wide cwd is never changed. Output is streamed line by line to a
// callback (normally the stage logger) and a short tail is kept so failures
// can be reported with the command's last words and exit status.
package execx
