/*
Package storage implements the Store interface against Postgres using pgx as
the database/sql driver and sqlx for query convenience. It owns telemetry
persistence (append-only, one row per (battery, timestamp)) and the
relational master data: sites, systems, strings, batteries, users, alerts,
and refresh-token sessions.

Schema migrations live under migrations/ and are applied with goose; this
package only ever reads and writes rows, it never alters the schema at
runtime.
*/
package storage
