// Package audiocore provides the device-facing building blocks of the
// loopback engine: stream and backend interfaces, the sample ring buffer,
// the passthrough pipe and stream resource tracking.
//
// # Architecture Overview
//
//   - Backend and Stream: a backend opens mono float32 capture and playback
//     streams. Concrete backends live under backends/ (malgo for real
//     devices, sim for an in-process acoustic loop).
//   - RingBuffer: single-producer single-consumer sample FIFO between the
//     capture callback and the processing goroutine. Writes are all or none.
//   - Pipe: byte ring that carries captured audio to the playback callback
//     when passthrough is enabled.
//   - ResourceTracker: records every open stream by owner and reports
//     streams that outlive their expected age.
//
// # Concurrency and Thread Safety
//
// Stream callbacks run on device threads. They must not allocate, block or
// take locks held by other goroutines. RingBuffer is safe for exactly one
// writer and one reader at a time; Reset requires both sides to be stopped.
// Pipe and ResourceTracker are safe for concurrent use.
//
// A Stream guarantees that no callback runs after Stop or Close returns.
//
// # Error Handling
//
// All errors use the enhanced error system with component and category
// tagging. Callers match them with errors.Is against the sentinels in
// errors.go:
//
//	if errors.Is(err, audiocore.ErrDeviceOpen) {
//	    logger.Error("stream failed to open", "error", err)
//	}
package audiocore
