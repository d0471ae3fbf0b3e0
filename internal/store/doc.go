// Package store persists target tables and synthesized periods.
//
// Three drivers implement TableStore:
//
//   - CSVStore writes <targets>.csv and <prefix>_<period>.csv files
//   - XLSXStore writes the same tables as Excel workbooks
//   - SQLiteStore keeps both tables in one SQLite database
//
// Column names follow config.SchemaConfig for the file drivers. Dirty
// currency formatting and weight rounding are applied on write only and
// are reversed on read, so any stored period can be re-aggregated and
// verified.
package store
