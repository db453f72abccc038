// Package main hosts the leadforge service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, session management,
//     lead management, and the worker webhook. Dashboard routes authenticate with
//     an API key; the webhook authenticates with its own bearer token.
//   - Session engine: internal/session.Engine owns the session state machine.
//     Worker callbacks arrive at-least-once and possibly reordered, so every
//     transition is a guarded store mutation and ingestion is idempotent on the
//     per-user natural key of each lead.
//   - Progress: internal/estimate blends authoritative worker progress with a
//     time-based estimate; internal/notify.Watcher streams blended updates to
//     SSE subscribers and falls back to polling when a push is missed.
//   - Persistence & fanout: sessions, leads, and profiles live in Postgres (or
//     in-memory stores when no DSN is configured). Raw callback snapshots are
//     archived to GCS, and session changes are published to Pub/Sub when a
//     project is configured. The notify Hub batches change events for sinks.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     /metrics handler. The service is stateless across requests, suitable for
//     Cloud Run scale-out.
//
// Quick checklist:
//   - Configure env vars: LEADFORGE_SERVER_PORT, LEADFORGE_DATABASE_DSN,
//     LEADFORGE_WORKER_BASE_URL, LEADFORGE_AUTH_API_KEY, storage
//     (LEADFORGE_STORAGE_GCS_BUCKET), and pubsub (LEADFORGE_PUBSUB_PROJECT_ID)
//     when persistence beyond memory is required.
//   - Run locally: go run ./cmd/leadforge -config config.yaml (or rely solely
//     on env overrides).
//   - Cloud Run: the process listens on the configured port, reacts to SIGTERM
//     for graceful drain, and flushes pending change events on shutdown.
package main
