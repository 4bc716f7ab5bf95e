// Package task implements the queue orchestration engine: task creation,
// the claim protocol, ACK/FAIL completion handling, and the background
// recovery sweeps that reclaim work from dead or stuck workers.
package task
