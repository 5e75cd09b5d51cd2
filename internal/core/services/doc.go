// Package services implements the core use cases behind the driving
// ports: the hybrid query planner and the ingestion coordinator.
package services
