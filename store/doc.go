// Package store groups the scheduler.JobStore implementations.
//
//   - memory: in process, for tests and single instance deployments
//   - postgres: shared by several scheduler instances, using optimistic locking
//   - firestore: same as postgres, backed by Google Cloud Firestore
package store
