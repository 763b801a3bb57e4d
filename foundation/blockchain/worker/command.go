package worker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/fatih/color"
)

// Console commands.
const (
	cmdListPeers   = "ls p"
	cmdListPool    = "ls pool"
	cmdListChain   = "ls c"
	cmdCreateBlock = "create b"
)

var (
	header = color.New(color.FgCyan, color.Bold)
	item   = color.New(color.FgGreen)
)

// command executes a console command on the loop goroutine.
func (w *Worker) command(ctx context.Context, line string) {
	line = strings.TrimSpace(line)

	switch {
	case line == cmdListPeers:
		w.printPeers()

	case line == cmdListPool:
		w.printPool()

	case strings.HasPrefix(line, cmdListChain):
		w.printChain()

	case strings.HasPrefix(line, cmdCreateBlock):
		w.createBlock(ctx, strings.TrimSpace(strings.TrimPrefix(line, cmdCreateBlock)))

	default:
		w.evHandler("worker: command: ERROR: unknown command %q", line)
	}
}

func (w *Worker) printPeers() {
	peers := w.protocol.KnownPeers()

	header.Fprintf(w.out, "Discovered Peers: %d\n", len(peers))
	for _, p := range peers {
		item.Fprintln(w.out, p.ID)
	}
}

func (w *Worker) printPool() {
	txs := w.chain.Pool().GetAll()

	header.Fprintf(w.out, "Pool Transactions: %d\n", len(txs))
	for _, tx := range txs {
		item.Fprintf(w.out, "%s -> %s hash[%s]\n", tx.TransactionID, tx.Transaction.Transaction.To, tx.Hash())
	}
}

func (w *Worker) printChain() {
	blocks := w.chain.Blocks()

	header.Fprintf(w.out, "Local Blockchain: %d\n", len(blocks))

	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		w.evHandler("worker: printChain: ERROR: %s", err)
		return
	}

	item.Fprintln(w.out, string(data))
}

// createBlock mines a block on top of the local tip, adds it and announces
// it. Without data the block records the transactions currently in the pool.
func (w *Worker) createBlock(ctx context.Context, data string) {
	latest, exists := w.chain.LatestBlock()
	if !exists {
		w.evHandler("worker: createBlock: ERROR: chain has no blocks")
		return
	}

	if data == "" {
		var ids []database.TransactionID
		for _, tx := range w.chain.Pool().GetAll() {
			ids = append(ids, tx.TransactionID)
		}

		if len(ids) == 0 {
			w.evHandler("worker: createBlock: ERROR: no data and no transactions to mine")
			return
		}

		data = database.MinedData(ids)
	}

	t := time.Now()
	block, err := database.MineBlock(ctx, latest, data, t)
	if err != nil {
		w.evHandler("worker: createBlock: ERROR: %s", err)
		return
	}

	w.evHandler("worker: createBlock: mined block[%s]: duration[%v]", block, time.Since(t))

	if err := w.chain.TryAddBlock(block); err != nil {
		return
	}

	if err := w.protocol.PublishBlock(ctx, block); err != nil {
		w.evHandler("worker: createBlock: ERROR: %s", err)
	}
}
