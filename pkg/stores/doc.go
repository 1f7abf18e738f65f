// Package stores persists environments. State lives in one JSON file per
// environment, replaced atomically under an advisory PID lock file. A SQLite
// database (WAL mode, embedded migrations) keeps an append-only history of
// stage transitions, workflow runs and workflow events.
package stores
