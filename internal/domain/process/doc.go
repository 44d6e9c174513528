/*
Package process runs each pipeline in isolation from the control plane.

A Process owns one child. The child builds the pipeline from the
registry, drives it with a pipeline.Executor and talks to its parent over
two one-way byte streams carrying CBOR items:

	parent --stdin-->  child   Inbound{type: "signal"|"stop", signal, priority}
	parent <--stdout-- child   pipeline.Status, on an interval, after every
	                           handled signal and once more on exit

The child logs to stderr so stdout stays a clean frame stream.

Two launchers exist. ExecLauncher re-executes the server binary with the
hidden "child" command, giving real OS process isolation: a crash,
deadlock or leak in pipeline code cannot take down the API. The
GoroutineLauncher runs the same child entry point on a goroutine over
in-memory pipes for development and tests.
*/
package process
