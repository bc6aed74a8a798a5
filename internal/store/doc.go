// Package store keeps a SQLite log of compilations and the deopt points of
// the graphs that compiled.
//
// Every compilation is one row, whether it finished or bailed out, keyed
// by its UUIDv7 ID and ordered by the pipeline's sequence number. Deopt
// points hang off the compilation that produced them.
//
// # Ordering
//
// All listing queries use ORDER BY seq ASC, id ASC COLLATE BINARY so two
// logs written from the same inputs read back identically. Wall-clock
// time is never stored.
//
// # Connection
//
// Each Store holds one connection in WAL mode with synchronous=NORMAL, a
// five second busy timeout and foreign keys enforced. Logs from older
// builds are upgraded on Open according to PRAGMA user_version.
package store
