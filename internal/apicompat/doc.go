// Package apicompat holds black-box tests that exercise a running uploader's
// control API over HTTP. They are skipped unless a server answers at
// LIVECAM_BASE_URL (default http://localhost:8080).
package apicompat
