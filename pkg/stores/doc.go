// Package stores provides durable completion stores for the action
// execution coordinator. A completion is the terminal outcome of one action
// identity; persisting it lets duplicate suppression survive process
// restarts and be shared between processes.
//
// Two backends are provided: SQLite (WAL mode, embedded migrations) for a
// single host, and Redis for processes that share state across hosts.
// Both enforce first-writer-wins on PutCompletion.
package stores
