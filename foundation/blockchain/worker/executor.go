package worker

import (
	"context"
	"time"
)

// executorOperations reports the pool on a fixed interval. It only reads
// the pool and never touches the chain.
func (w *Worker) executorOperations(ctx context.Context) {
	w.evHandler("worker: executorOperations: G started")
	defer w.evHandler("worker: executorOperations: G completed")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runExecutorOperation()
		case <-w.shut:
			w.evHandler("worker: executorOperations: received shut signal")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runExecutorOperation() {
	txs := w.chain.Pool().GetAll()

	w.evHandler("worker: executor: pool[%d]", len(txs))
	for _, tx := range txs {
		w.evHandler("worker: executor: tx[%s]: hash[%s]", tx.TransactionID, tx.Hash())
	}
}
