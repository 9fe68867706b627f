// Package internaldefs holds the metric names, labels and bucket bounds
// shared by the exporters so every backend exposes identical series.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
