// Package api exposes the HTTP interface for the session lifecycle service:
// the worker result webhook, session management, lead access, and the
// server-sent progress stream.
package api
