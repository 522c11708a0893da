/*
Package telegram maintains the durable channel subscription and performs
downloads for the ingestion pipeline.

The telegram package is magpie's only contact with the MTProto API, built
on gotd/td. It owns three concerns: a long-lived authenticated connection
that listens for channel updates, on-demand document downloads for the
worker pool, and a BoltDB-backed session store so restarts never repeat
the interactive login.

# Architecture

	                 ┌─────────────────────────────┐
	 updates ──────▶ │  dispatcher                 │
	                 │    document filter          │────▶ Handler (blocks
	                 │    size cutoff              │       on full queue)
	                 ├─────────────────────────────┤
	 workers ──────▶ │  Download(ref, w)           │
	                 │    re-fetch fresh reference │────▶ io.Writer
	                 │    stream parts             │
	                 ├─────────────────────────────┤
	                 │  SessionStore (bbolt)       │
	                 │    MTProto session blob     │
	                 │    resolved peer cache      │
	                 └─────────────────────────────┘

Run owns the connection: it authenticates (interactive code prompt on
first login, silent thereafter), resolves every configured channel, then
blocks handling updates until cancelled. Reconnection is automatic with
exponential backoff, and the session survives restarts in the BoltDB
store, so a restart never repeats the login flow.

Channel entries may be usernames or numeric IDs, including the bot-style
"-100..." form. An entry that cannot be resolved aborts startup; silently
watching fewer channels than configured would hide a configuration
mistake.

Downloads always re-read the message first. File references expire within
minutes, so a reference captured at event time is useless by the time a
queued job reaches a worker.

Rate limits (FLOOD_WAIT) up to two minutes are absorbed by a middleware
that sleeps and retries inside the RPC call. Updates arriving while
disconnected are not replayed; the pre-download dedup check makes the
occasional re-delivered event harmless.

# Core Components

Client:
  - Connection, authentication, and the update loop
  - Resolves configured channels to ID + access hash pairs at startup
  - Filters updates down to documents in watched channels
  - Streams document bytes for the worker pool

SessionStore:
  - session.Storage implementation over bbolt
  - Single file <storage>/sessions/magpie.session
  - Separate bucket caches resolved peers across restarts

Error sentinels:
  - ErrAuthFailed: the account needs a human with a login code
  - ErrNotFound: the message or document no longer exists

Options:
  - API credentials, phone, optional two-step password
  - Channel list, size cutoff, queue handler, readiness callback
  - CodePrompt: how to ask the operator for a login code

# Connection Lifecycle

Startup:

 1. Open the stored session; absent means first login
 2. Connect and run the auth flow if the session is not authorized
    (phone, then code via CodePrompt, then password if two-step is on)
 3. Resolve every configured channel; any failure aborts startup
 4. Invoke OnReady so the supervisor can flip the readiness probe
 5. Block dispatching updates until the context cancels

Update handling:

 1. Dispatcher delivers new channel messages
 2. Messages without a document attachment are ignored
 3. Documents over the size cutoff are logged and skipped
 4. Everything else becomes a DocumentEvent handed to Handler
 5. Handler runs synchronously; a full queue blocks the update loop,
    which is the backpressure path

Disconnects:

 1. gotd reconnects transport drops internally with backoff
 2. A terminal Run error surfaces to the supervisor, which restarts the
    whole client with its own backoff
 3. AUTH_KEY errors map to ErrAuthFailed and are never retried

# Channel Resolution

Username entries ("leakwatch"):

 1. ContactsResolveUsername against the directory
 2. The result must be a channel the account can access

Numeric entries ("1234567890" or "-1001234567890"):

 1. Normalize the bot-API "-100" prefix to a bare channel ID
 2. Try the peer cache in the session store
 3. Try a direct ChannelsGetChannels lookup
 4. Walk the account's dialog list page by page until found

Resolved peers are cached with their access hash, so the dialog walk is
a first-boot cost, not a steady-state one.

# Downloads

Download(ref, w) is called by pipeline workers, possibly long after the
event was observed:

 1. Reject refs for channels not in the watched set
 2. ChannelsGetMessages re-reads the message for a fresh file reference
 3. Verify the document ID still matches the ref (messages can be edited
    to carry a different document)
 4. Stream the document in parts through a counting writer into w
 5. Return the byte count for the caller's size verification

A deleted message, an edited-away document, or a revoked channel all
surface as ErrNotFound, which the pipeline treats as non-retryable.

# Usage

	sessions, err := telegram.OpenSessionStore(cfg.StoragePath)
	if err != nil {
		return err
	}
	defer sessions.Close()

	client := telegram.New(telegram.Options{
		APIID:       cfg.TelegramAPIID,
		APIHash:     cfg.TelegramAPIHash,
		Phone:       cfg.TelegramPhone,
		Password:    cfg.TelegramPassword,
		Channels:    cfg.Channels,
		MaxFileSize: cfg.MaxFileSizeBytes(),
		Sessions:    sessions,
		Handler:     enqueue,
		CodePrompt:  promptLoginCode,
		OnReady:     markReady,
	})

	err = client.Run(ctx) // blocks until cancelled or terminal failure

# Failure Scenarios

Expired or revoked session:
  - API returns AUTH_KEY_UNREGISTERED or a sibling
  - Run fails with ErrAuthFailed; the supervisor does not restart it
  - The operator re-runs interactively to enter a fresh login code

Unresolvable channel:
  - Typo, deleted channel, or the account was removed from it
  - Run fails before ever going ready; startup aborts

FLOOD_WAIT:
  - Waits up to two minutes are slept through inside the middleware
  - Longer waits surface as errors and follow the caller's retry policy

Transport drop mid-download:
  - The stream returns a network error
  - The pipeline retries the download with backoff; the fresh message
    re-fetch on retry makes expired references harmless

Offline gap:
  - Updates posted while disconnected are not replayed on reconnect
  - Documents posted during a gap are missed unless re-posted; the dedup
    layers make overlap after reconnect free

# Integration Points

This package integrates with:

  - pkg/supervisor: runs the client, restarts it across disconnects,
    treats ErrAuthFailed as fatal
  - pkg/queue: Handler feeds document events into the bounded queue
  - pkg/pipeline: workers call Download; sentinels drive retry policy
  - pkg/types: DocumentEvent and ExternalRef shapes
  - pkg/metrics: readiness transitions via the OnReady callback

# Design Patterns

Synchronous Handler:
  - The update callback blocks on a full queue instead of dropping
  - Listener speed degrades before data is lost
  - Dedup absorbs the duplicates that slow handling can cause

Re-fetch Before Download:
  - Never trust a stored file reference
  - One extra RPC per download buys immunity to reference expiry

Fatal-vs-Transient Split:
  - ErrAuthFailed and ErrNotFound are sentinel classes for callers
  - Everything else is assumed transient and left to backoff policy

Session Outlives Process:
  - Auth state and peer cache persist in bbolt
  - Interactive login is a once-per-deployment event, not per-boot

# Troubleshooting

Common Issues:

Stuck at login prompt:
  - Symptom: service waits for a code at boot
  - Cause: first run, or the stored session was invalidated
  - Solution: run interactively once, enter the code, restart detached

Channel never produces events:
  - Symptom: no documents from a configured channel
  - Check: channel entry resolves (startup log lists each resolution)
  - Check: the account is still a member of the channel
  - Check: documents exceed MAX_FILE_SIZE_MB and are being skipped

Frequent FLOOD_WAIT logs:
  - Symptom: downloads stall with flood wait entries
  - Cause: too many workers hammering the API
  - Solution: lower WORKER_COUNT; waits under two minutes self-heal

Downloads fail with not found:
  - Symptom: jobs fail citing a vanished document
  - Cause: message deleted between event and download
  - Expected: the job records the failure and the pipeline moves on

# See Also

  - pkg/supervisor for restart and fatal-error policy
  - pkg/pipeline for how downloads are retried and classified
  - gotd/td library: https://github.com/gotd/td
  - bbolt storage: https://github.com/etcd-io/bbolt
*/
package telegram
