// Package api contains the HTTP handlers for the orchestration engine:
// task ingestion and dashboard reads on one side, the worker protocol
// (claim, ack, fail, heartbeat) on the other. Authentication is the
// caller's concern; handlers here assume the router has already gated
// access.
package api
