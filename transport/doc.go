/*
Package transport carries protocol envelopes between a cluster child and its parent.

There are three implementations of Transport:

  - Process: newline-delimited JSON over the stdio pipes the parent attached to a child process.
  - Port: one end of an in-process message port pair, for children running as goroutine workers inside the parent process.
  - WebSocket: JSON frames over a WebSocket dialed to the parent, for children spawned with a parent URL instead of pipes.

Every transport runs a single read goroutine. Inbound envelopes are handed, in arrival order, to the listeners subscribed at the time of arrival. Nothing is buffered for late subscribers: an envelope that arrives while nobody is listening is dropped.
*/
package transport
