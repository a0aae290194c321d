package db

import _ "embed"

// Schema creates the leaderboard table and upgrades older versions of it.
//
//go:embed schema.sql
var Schema string
