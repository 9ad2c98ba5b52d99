// Package handler defines the common interface that all operation handlers
// must implement, along with the registry that maps operation kinds to their
// handlers and the domain types exchanged between the dispatcher and handler
// implementations.
package handler
