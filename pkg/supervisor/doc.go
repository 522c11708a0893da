/*
Package supervisor boots the service and owns the order in which its
components start and stop.

The supervisor is the only place that knows the whole object graph. It
builds every component from the frozen configuration, wires them
together, keeps the listener alive across disconnects, and unwinds
everything in the right order when the process is told to stop. Nothing
else in the codebase starts a goroutine that outlives a request.

# Architecture

	repository ─▶ store ─▶ scanner ─▶ sessions ─▶ queue ─▶ pool ─▶ listener
	   (boot order: storage first, intake last)

	shutdown reverses intake-first:
	  stop listener ─▶ close queue ─▶ drain (grace) ─▶ cancel workers
	    ─▶ stop metrics ─▶ close sessions, repository

Two contexts drive the lifecycle. The listener runs under a child of the
caller's context, so a shutdown signal stops intake immediately. The
workers run under a context of their own, so queued jobs keep processing
through the drain grace window and are cancelled only when it expires.

The listener is restarted across transient disconnects with exponential
backoff. Two failures are final: an authorization failure, which needs a
human with a login code, and any failure before the first successful
start, where retrying would just replay a bad configuration.

# Core Components

Supervisor:
  - Run boots everything, blocks, and tears everything down
  - Returns the caller's context error on a clean signal-driven stop
  - Returns ErrAuthFailed unwrapped so main can choose its exit status

Options:
  - Config: the validated configuration snapshot
  - CodePrompt: how to ask the operator for a login code at first boot

# Boot Sequence

 1. Open the repository (pragmas, schema, migrations); report its health
 2. Open the content store and sweep stale scratch from any prior crash
 3. Compile the scanner rules; log the active rule counts
 4. Open the session store
 5. Create the bounded queue sized from configuration
 6. Build the listener client with the queue's Enqueue as its handler
 7. Build the processor and worker pool; start the workers
 8. Start the metrics Collector and the observability HTTP server
 9. Run the listener loop until shutdown or a fatal failure

Each step that can fail aborts the boot with a wrapped error and flips
the corresponding health component, so /health explains a half-started
process.

# Shutdown Sequence

 1. The caller's context cancels (signal) or the listener fails fatally
 2. Cancel the listener context; intake stops immediately
 3. Close the queue; buffered events remain dequeueable
 4. Wait for the pool to drain, bounded by SHUTDOWN_GRACE
 5. On expiry, cancel the worker context; in-flight jobs record terminal
    failures under a short background deadline
 6. Stop the Collector, shut down the HTTP server
 7. Close the session store and the repository

The drain applies only to signal-driven stops. When the listener itself
failed fatally, queued jobs cannot download anyway, so the workers are
cancelled immediately instead of burning retries against a dead
connection.

# Listener Restart Policy

The listener loop wraps telegram.Run with exponential backoff and a
disposition check on every exit:

  - Context cancelled: clean stop, no restart
  - ErrAuthFailed: fatal; restarting cannot fix a dead session
  - Failure before the first successful start: fatal; this is a
    configuration problem, not a network one
  - Anything else: restart after the backoff delay

A run that stayed up for over a minute resets the backoff, so a stable
connection that drops once does not pay an accumulated penalty. Every
transition is mirrored into the telegram health component, which is what
takes /ready out of rotation while reconnecting.

# Usage

	s := supervisor.New(supervisor.Options{Config: cfg, CodePrompt: prompt})
	if err := s.Run(ctx); err != nil {
		if errors.Is(err, telegram.ErrAuthFailed) {
			// distinct exit status, the operator must re-login
		}
	}

# Failure Scenarios

Database missing or corrupt at boot:
  - Run fails at step 1 with the wrapped open error
  - /health, if the server ever starts, shows repository unhealthy

Listener cannot authenticate:
  - Run returns ErrAuthFailed; cmd/magpie exits with status 2
  - The fix is interactive: run attached, enter the code

Workers still busy at grace expiry:
  - Their context cancels; downloads abort as transient failures
  - Terminal writes still land via the background deadline
  - Re-delivered events after restart re-run the lost jobs

Metrics port already bound:
  - The server goroutine logs the error; ingestion continues
  - Observability is degraded, data flow is not

# Integration Points

This package integrates with:

  - cmd/magpie: the run command builds a Supervisor from loaded config
  - pkg/telegram: listener lifecycle and the ErrAuthFailed sentinel
  - pkg/pipeline, pkg/queue: worker pool wiring and drain semantics
  - pkg/repository, pkg/blobstore, pkg/scanner: constructed at boot
  - pkg/metrics: component health transitions, Collector, HTTP server

# Design Patterns

Two-Context Shutdown:
  - Intake and processing stop at different times
  - The listener dies with the caller's context; workers get their own,
    cancelled only after the drain grace

Explicit Boot Order:
  - Dependencies before dependents, intake last
  - A failed boot is a sequence of wrapped errors, not a goroutine leak

Supervised Restart:
  - Only the listener restarts; storage components either work or abort
  - Backoff with uptime reset distinguishes flaky from broken

Health as a Side Channel:
  - Every lifecycle transition reports to the HealthChecker
  - Probes explain the process without log access

# Monitoring

During steady state:
  - /ready 200, magpie_queue_depth low, jobs flowing

During a reconnect:
  - /ready 503 with "waiting for telegram", queue draining, workers idle

During shutdown:
  - queue_depth falls to zero inside the grace window on a healthy stop

# See Also

  - cmd/magpie for signal handling and exit statuses
  - pkg/telegram for what the listener loop actually restarts
  - pkg/queue for the drain semantics the grace window relies on
*/
package supervisor
