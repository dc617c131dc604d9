package store

import _ "embed"

// Migrations is the full schema. Statements are idempotent (IF NOT EXISTS)
// so the migrate binary can be re-run safely.
//
//go:embed migrations.sql
var Migrations string
