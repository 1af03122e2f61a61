// Package server implements the file-pickup service: anonymous upload
// batches become file groups addressed by a short pickup code, redeemed
// for a single-active download token. It wires together the registry
// store, validation and quota policies, the HTTP routes, and the
// background reaper and backup jobs used by tests and the production
// binary.
package server
