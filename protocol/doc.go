/*
Package protocol describes the messages exchanged between a cluster child and its parent. Messages are JSON objects and carry no explicit type tag: the kind of a message is decided by which field is present. The schema lives in types.go.

Messages sent by the child:

1. Lifecycle notices: {"ready": true}, {"disconnect": true}, {"reconnecting": true}. Nothing is expected back.
2. Property fetch requests: {"id", "fetchPropRequest": path, "fetchPropTarget": target}. The parent answers with the same fields plus "result" or "error".
3. Evaluation requests: {"id", "evalRequest": code, "evalTarget": target}. The parent answers with the same fields plus "result" or "error".
4. Respawn requests: {"respawnAll": {"clusterDelayMs", "respawnDelayMs", "spawnTimeoutMs"}}. Nothing is expected back.
5. Replies to parent-issued operations, see below.

Messages sent by the parent:

1. Replies to the requests above. A reply that echoes "id" is routed to exactly one waiting request. A reply without "id" is matched by its payload, so identical concurrent requests all receive it.
2. Remote operations: {"fetchProp": path} and {"eval": code}, optionally with "id". The child answers with the same fields (and the same "id") plus "result" or "error".
3. Anything else is an application message and is handed to the application untouched.
*/
package protocol
