// Package cache holds the pre-fetched image cache: a content-addressed disk
// store that names every downloaded image after the MD5 of its bytes, the
// per-source FIFO queues of ready-to-serve file paths, and the blocking
// consumer that request handling uses to take one valid entry. Producers
// (the refill scheduler) call Fetcher + Queue.Enqueue; consumers call
// Consumer.Acquire. Queue registration goes through one global lock.
package cache
