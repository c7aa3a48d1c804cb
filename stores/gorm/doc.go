//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based account and session stores. It supports any
// database GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - accounts: account records; username is unique when present
//   - external_identities: (provider, subject_id) primary key, one row per linked provider identity
//   - sessions: session tokens and their expiry
//
// Open the database with TranslateError enabled so unique violations surface
// as gorm.ErrDuplicatedKey; the stores fall back to matching driver messages
// otherwise.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	accounts := gormstore.NewAccountStore(db)
//	sessions := gormstore.NewSessionStore(db)
package gorm
