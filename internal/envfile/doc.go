// Package envfile loads dotenv files and keeps a snapshot in sync with the
// file on disk.
package envfile
