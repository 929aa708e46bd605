// Package stage defines the pipeline step descriptor, the handler contract,
// and the per-stage result the driver records.
package stage
