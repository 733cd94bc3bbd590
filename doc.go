// Package sentrysol and its sub-packages implement the backend of the SentrySol wallet security dashboard.
/*
sentrysol provides you with a microservice and a terminal client:

1) an analyzer microservice (package analyzer) that implements a RESTful API streaming deep security analyses of
 Solana and Ethereum wallets, answering chat questions about wallet safety and serving transaction flow graphs and the
 analysis history.

2) a client (cmd/sentrysol) that follows analysis streams, chats with the security assistant, reads the history and
 follows the analysis reports published to the message broker.

Architecture

An analysis runs as a sequence of progress updates (package lib/analysis). In mock mode the updates are fabricated; in
live mode they are built from the Helius indexer (package lib/chain), the BlockSec risk score (package lib/risk) and a
Mistral language model (package lib/llm). Updates reach clients as Server-Sent Events (package lib/sse) or websocket
frames while the analysis runs, with periodic heartbeats so clients can tell a quiet analysis from a dead connection.

Completed analyses are saved to the history database and their reports published to the message broker. The history is
a product agnostic layer (package lib/store) with MongoDB, PostgreSQL and Supabase implementations; the message broker
(package lib/msg) routes reports by chain, risk level and address so other services can follow the wallets they care
about. Risk scores are cached in Redis or in memory (package lib/cache).

Clients follow an analysis with a streaming connection manager (package lib/stream) which checks the service health
first, tracks stream activity, reconnects with backoff after unexpected drops and gives up on idle or overlong streams.

Configuration is read from a JSON file and OS ENV variables (package lib/config). The service can also be monitored via
a Prometheus API by setting the flag "-m" at startup.

Analyzer

The analyzer microservice can be started running cmd/analyzer/main.go -c cmd/conf.json. Every endpoint is served both
at the root and under /api: /health, /analyze/{address}, /ws/analyze/{address}, /chat, /chat/analyze,
/chat-sentrysol-stream, /transaction-flow/{address} and /history/{address}.

Client

	sentrysol watch <address>            follow a deep analysis
	sentrysol chat <message> [--follow]  ask the security assistant
	sentrysol health                     show the service state
	sentrysol history <address>          list or delete stored analyses
	sentrysol reports -p "*.high.*"      follow published reports

*/
package sentrysol
