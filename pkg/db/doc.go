// Package db holds the records exchanged on the admin bus and the
// monitor-side Database that mirrors them.
//
// The Database is a passive store. A monitor feeds it the notifications it
// receives (Update*/Remove*), and the Database fires the registered
// callbacks synchronously, in arrival order, with the Action that
// describes the change. Enumerations and queries return copies; client
// code never mutates stored records.
//
// Links are derived state: the first mapping between two devices creates
// the link (NEW) and removing the last one removes it (REMOVE).
//
// The Database is not safe for concurrent use; it is driven from a single
// poll loop.
package db
