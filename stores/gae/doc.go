//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the account
// and session stores. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Account: account records, key name is the account id
//   - Username: key name is the local username, points at an account
//   - ExternalIdentity: key name is "provider:subject", points at an account
//   - Session: key name is the session token
//
// Username and ExternalIdentity entities are the uniqueness constraints.
// They are only written inside transactions that first read them, so two
// concurrent find-or-create calls for the same identity cannot both create.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	accounts := gae.NewAccountStore(client, "")  // default namespace
//	sessions := gae.NewSessionStore(client, "")
package gae
