// Package triage provides the business boundary for sift's ticket triage
// pipeline. It defines the Service (dedup, lifecycle, async dispatch), Engine
// (the durable-step orchestrator), the model Provider seam, the response
// extractor and structured decoder, the Store interface, and domain models.
package triage
