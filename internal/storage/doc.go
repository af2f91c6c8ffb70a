// Package storage persists the per-bot document: admin ids, gated chat ids,
// known users, the broadcast progress pointer and display settings, plus an
// append-only audit log of operator actions.
package storage
