// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED leasing, a partial unique index guarding
// idempotency keys, embedded SQL migrations.
package postgres
