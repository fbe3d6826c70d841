/*
Package child implements the child side of a parent/child cluster: a process (or an in-process worker) that hosts some
shards of an application and lets its parent inspect and steer it.

A Client does four things over a transport.Transport:

  - It forwards the application's lifecycle (ready, disconnect, reconnecting) to the parent, best-effort.
  - It asks the parent for values and evaluations across clusters (FetchClientValue, BroadcastEval) and waits for the reply.
  - It answers the parent's own fetchProp and eval operations against the local application.
  - It asks the parent to respawn all clusters.

Replies are matched to requests by an id the child attaches to each request. Parents that do not echo the id are still
served: their replies are matched on payload, which means identical concurrent requests share one reply.

Failures that have no caller to return to are published on Diagnostics.
*/
package child
