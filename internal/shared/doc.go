// Package shared holds helpers used across the synthpanel packages that do
// not belong to any domain layer.
//
// The testutil subpackage provides:
//
//   - BufferedSlogHandler and NewTestLogger for asserting on emitted logs
//   - file fixtures (CSV/YAML) written into t.TempDir()
//
// Nothing here may import a domain package, so every package's tests can
// depend on it without an import cycle.
package shared
