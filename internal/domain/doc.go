// Package domain defines the core business types for the leadpilot reply
// pipeline: leads, agents, properties, messages, draft locks, QA artifacts
// and the follow-up policy resolver.
//
// Types in this package are pure value objects with no behavior beyond
// validation and policy resolution. They are the shared language between
// the classifier, the pipeline stages, the store and the API.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
