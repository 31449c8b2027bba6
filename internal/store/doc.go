// Package store defines the persistence boundary for finished generation runs.
// The service layer depends on the RunArchive interface only; the Postgres
// implementation lives in internal/platform/postgres.
package store
