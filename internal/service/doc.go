// Package service runs training jobs without a user in the loop.
//
// The Supervisor owns an event loop in front of an orchestrator. It requests
// runs, writes the training output to a console and hands the summary of
// every finished run to the reporters.
//
//	Supervisor                    Orchestrator             process
//	    |                              |                      |
//	Start() / gocron ---> Start() ---->| build, Start() ----->|
//	    |<------------ log, progress --|<------- lines -------|
//	    |<------------ summary --------|<------- exit --------|
//	report() -> stdout, dir, webhook
//
// Modes:
//   - manual: one run is started by Do, which returns with its outcome.
//   - timer: runs are started by a cron expression or a fixed duration, a
//     trigger hitting an active run is skipped.
//
// Cancelling the context of Do stops the active run and waits for its summary.
package service
