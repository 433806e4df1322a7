// Package journal records MQTT session events in SQLite.
//
// A Sink implements mqtt.EventSink: each callback becomes an Entry that a
// background worker writes through a Repository, so paho's goroutines never
// wait on disk I/O. Entries are queryable newest-first with List.
//
//	repo := journal.NewSQLiteRepository(db.DB)
//	sink := journal.NewSink(repo, journal.SinkOptions{ClientID: "dev1"})
//	defer sink.Close()
//	session.Connect(sink)
package journal
