// Package memory indexes personal memory content into a vector store and
// retrieves it by semantic similarity.
//
// Invariants:
//   - A source identity (type, id) is written inside one store transaction
//     held under an identity lock; readers see all of its records or none.
//   - Without force, a source that already has records is skipped.
//   - A forced reindex leaves exactly the current units of the source.
//   - Retrieval never returns more than the limit, nor a hit at or below the threshold.
//
// Usage:
//
//	chunker, _ := memory.NewChunker(memory.DefaultChunkWindow, memory.DefaultChunkOverlap)
//	tracker, _ := memory.NewTracker(memory.PolicyDiff)
//	embedder := memory.NewEmbedder(provider, memory.DefaultEmbedderOptions(), logger)
//	ix, _ := memory.NewIndexer(memory.IndexerConfig{Chunker: chunker, Tracker: tracker, Embedder: embedder, Store: store, Adapters: adapters, Logger: logger})
//	report, _ := ix.Run(ctx, memory.RunOptions{})
//	r, _ := memory.NewRetriever(embedder, store, logger)
//	results, _ := r.Search(ctx, "query", memory.DefaultSearchOptions(memory.ModeSearch))
//	_, _ = report, results
package memory
