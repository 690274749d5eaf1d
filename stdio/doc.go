// Package stdio implements a single-connection message transport over
// stdin/stdout. Each message is one line of UTF-8 JSON terminated by '\n';
// there is no other framing. It is intended for workers spawned as
// subprocesses by a host that pipes JSON to them.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 host
//	Auth             : none
//	Delivery         : in order, in memory; nothing survives a restart
//	Transport        : newline-delimited JSON
//
// Blank lines are ignored. Lines that are not valid JSON are dropped so a
// noisy peer cannot end the session; install WithDecodeErrorHandler (for
// example LogDecodeErrors) to observe them.
//
// Example:
//
//	ch := stdio.New(stdio.WithLogger(logger))
//	if err := ch.Start(); err != nil { log.Fatal(err) }
//	defer ch.Close()
//	for {
//	    msg, err := ch.Receive(ctx)
//	    if errors.Is(err, transport.ErrStdinClosed) { return }
//	    ...
//	    _ = ch.Send(ctx, reply)
//	}
package stdio
