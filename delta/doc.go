// Package delta implements the mutable change overlay of a columnar rowset:
// an in-memory buffer of row updates and deletes (MemStore), durable flushed
// change sets (FileReader, written by FileWriter), and the Tracker that owns
// both and serves merged, snapshot-filtered iteration over all of them.
//
// # Store list
//
// A Tracker owns exactly one mutable MemStore and an ordered list of durable
// stores, oldest flush generation first. The MemStore is logically newest
// and is merged after every durable store. Iterators are built against a
// consistent snapshot of that list and hold their own references, so a
// concurrent flush never invalidates an in-flight scan.
//
// # Concurrency
//
// One readers-writer lock protects the store list. Writers append into the
// live MemStore under the lock in shared mode (the MemStore is internally
// safe for concurrent insertion); list readers also take it shared. Flush
// takes the lock exclusively twice — once to swap the MemStore out, once to
// splice the durable reader back in — and performs the disk write with no
// lock held. A tracker serializes its own flushes; concurrent Flush calls
// queue behind each other.
package delta
