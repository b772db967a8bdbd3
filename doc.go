/*
Package kevalink is a client for KevaDB, a clustered replicated
key-value store.

A KevaDB node may answer any command with a redirection reply naming the
node the key actually lives on. The usual case is handled by simply
connecting there. The interesting case, and the reason this library
exists, is the redirect that points at the very endpoint the client is
already connected to: it means the client's route to that address is
stale (stale DNS entry, a load balancer that has not rerouted yet), and
retrying over the same socket would reproduce the identical redirect
forever. kevalink detects that case by comparing the redirect target
against the endpoint of the connection that received it - no fresh name
lookup involved - and forces a brand-new physical connection to the
unchanged address before retrying.

Packages:

  keva      - shared vocabulary: requests, endpoints, the error taxonomy.
  wire      - the line protocol: request encoding, reply parsing.
  kevaconn  - the connection lifecycle: one open connection per logical
              link, single-flight replacement.
  kevaretry - the client: per-command redirect/reconnect/retry decisions.
  testbed   - a deterministic in-process server for exercising the above.

Results are de-serialized into plain go types and returned as interface{}:

  reply        | go
  -------------|-------
  status       | string
  bulk string  | []byte
  integer      | int64
  absent value | nil
  array        | []interface{}
  error        | error (*errorx.Error)

IO, connection, and other errors are not returned separately but as
result (and has same *errorx.Error underlying type). The typed helpers
on kevaretry.Client unpack them into ordinary (value, error) returns.
*/
package kevalink
