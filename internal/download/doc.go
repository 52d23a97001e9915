// Package download implements a concurrency-bounded download queue with
// live progress, speed and ETA tracking.
//
// A fixed pool of workers drains a FIFO of jobs. Each job streams bytes from
// a [Source] into a file in fixed-size chunks, updating an immutable
// [Progress] snapshot after every chunk. Speed is resampled no more often
// than every [MinSampleInterval]; the ETA follows from speed and remaining
// bytes.
//
// The queue also maintains an aggregate progress value: the arithmetic mean
// of the completion fraction of every tracked job. Jobs stay tracked until
// they are removed with [Queue.Remove] or [Queue.Prune].
//
// Cancellation is cooperative. [Queue.Cancel] sets a flag that the worker
// checks before connecting and at every chunk boundary.
//
//	q := download.NewQueue(download.Config{Workers: 3, ChunkSize: 8 << 10},
//	    download.WithBus(bus))
//	defer q.Close()
//
//	h := q.Submit(url, "/data/game/versions/1.20.1/1.20.1.jar")
//	p, err := h.Wait(ctx)
package download
