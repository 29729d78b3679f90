package mcpserver

// LedgerFormatURI identifies the ledger format resource.
const LedgerFormatURI = "examvault://ledger-format"

// LedgerFormat describes the ledger for LLM consumers reading tool output.
const LedgerFormat = `# examvault Ledger Format

The ledger is an append-only sequence of blocks. Each block records one
document lifecycle event.

## Block fields

| Field | Meaning |
|---|---|
| ` + "`index`" + ` | Position in the chain. Block 0 is the genesis block. |
| ` + "`timestamp`" + ` | Creation time in Unix milliseconds. |
| ` + "`payload.subjectId`" + ` | Document ID the event concerns (` + "`genesis`" + ` for block 0). |
| ` + "`payload.label`" + ` | Document label at the time of the event. |
| ` + "`payload.scheduledDate`" + ` | Release day, YYYY-MM-DD. |
| ` + "`payload.action`" + ` | One of GENESIS, UPLOADED, ENCRYPTED, ACCESSED. |
| ` + "`payload.actor`" + ` | Who triggered the event. |
| ` + "`previousHash`" + ` | Hash of the preceding block (` + "`0`" + ` for genesis). |
| ` + "`hash`" + ` | Lowercase hex SHA-256 of the canonical encoding of index, timestamp, payload, previousHash and nonce. |
| ` + "`nonce`" + ` | Proof-of-work counter. |

## Rules

1. A document moves UPLOADED, then ENCRYPTED, then ACCESSED any number of times.
2. Every hash starts with as many ` + "`0`" + ` characters as the configured difficulty.
3. Content is sealed at ENCRYPTED and can only be retrieved on its release day.

## Verification reasons

- **EmptyChain**: there are no blocks.
- **HashMismatch**: the stored hash differs from the recomputed one; the block was edited.
- **BrokenLink**: previousHash does not match the predecessor, or an index is missing.
- **DifficultyUnmet**: the hash does not have enough leading zeros.

Only the first violation in index order is reported.
`
