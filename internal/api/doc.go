// Package api implements the thin operator HTTP surface: inspecting task
// results, triggering revocation, and viewing saga/partition/kill-switch
// status. It is a management surface, not a dashboard — there is no UI, no
// pagination beyond simple limit/offset, and no authentication beyond what
// an operator puts in front of it with a reverse proxy.
//
// Structure:
//   - handler.go   — Handler with its dependencies (stores, orchestrator, logger)
//   - routes.go    — route registration
//   - middleware.go — logging, panic recovery
//   - response.go  — uniform JSON responses and error translation
//   - dto.go       — request/response DTOs
//   - task_handler.go  — /api/v1/tasks
//   - saga_handler.go  — /api/v1/sagas
//   - queue_handler.go — /api/v1/queue
package api
