// Package testutil provides testing utilities for the rowset engine.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded thread-safe RNG, reproducible change workload
// generation, and a sequential replay oracle for verifying merged scan
// output.
//
// # Workload Generation
//
//	rng := testutil.NewRNG(seed)
//	w := rng.GenerateWorkload(schema, numRows, numOps, startTx, 0.1)
//
// # Expected State (Ground Truth)
//
//	oracle := testutil.NewOracle(schema, numRows)
//	_ = oracle.ApplyAll(w.Ops, upperBound)
//	want := oracle.Cell(row, col)
package testutil
