// Package walletlink and its sub-packages implement a wallet discovery and connection bridge: they detect which
// wallet providers a page has injected and connect to one of them on behalf of a UI that cannot reach the page
// directly.
/*
walletlink runs in three contexts that communicate over a message broker:

1) the coordinator (package coordinator) serves a RESTful API for the UI: list the supported providers, run a
 detection, connect, disconnect and read the connection status. The connection flow is driven by package
 orchestrator and the last connection is persisted with a TTL by package connection.

2) the relay (package bridge) forwards requests from the coordinator to the page that last announced itself active
 and forwards replies and provider notifications back. When no page is reachable requests are answered at once.

3) the page host (package bridge, package probe) runs in the page: the probe detects providers by direct inspection,
 global enumeration and ready events, and the page end answers detection, connect and disconnect requests.

Architecture

Every message is an envelope (package lib/msg) with a request id that is kept end to end. The message broker is a
product agnostic layer (AMQP, Redis or in-memory) and so is the connection storage (package lib/store: badger, redis,
mongodb, postgres or in-memory), both configured via a JSON config file or WLB_ prefixed environment variables.

Providers are described by data (package lib/provider): where their handle lives, the methods they must expose and the
shape of their connect response. Adding a wallet is a configuration change.

The page is reached through package lib/page: a Chrome DevTools tab (lib/page/cdp) or a simulated page
(lib/page/sim) used for development and tests.

The services can be monitored via a Prometheus API by setting the flag "-m" at startup.

Commands

All services are started with cmd/walletlink: "walletlink coordinator", "walletlink relay", "walletlink page" or
"walletlink all" to run them in one process over the in-memory broker.
*/
package walletlink
