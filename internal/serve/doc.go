// Package serve launches the built frontend.
//
// Two modes exist. Exec mode starts the configured start command (npm start)
// in the frontend directory with PORT set and ends when that process ends,
// returning its exit status; nothing supervises or restarts it. Static mode
// serves the build output with an in-process HTTP server that falls back to
// index.html for client-side routes and, when live reload is enabled,
// pushes a Server-Sent Event to open pages whenever the build output changes.
package serve
