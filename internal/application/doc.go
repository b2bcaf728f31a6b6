// Package application provides application initialization and dependency wiring.
// It builds the environment snapshot, resolver, API handlers, the preview
// file server and the HTTP server, keeping the main package focused on CLI
// parsing and orchestration.
package application
