// Package store provides the durable conversation row stores.
//
// Two implementations exist: a Supabase (PostgREST) client for deployments
// that share a database with the rest of the product, and a local SQLite
// store used when no remote persistence is configured. Both persist one row
// per session keyed by session id, with the ordered entry list as a JSON
// document column. A missing row reads back as an absent document, never an
// error.
package store
