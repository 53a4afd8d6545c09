// Package testutil provides testing utilities for structstore.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random generator for value trees and helpers that
// give every test its own shared-segment name and backing directory.
//
// # Random Trees
//
//	rng := testutil.NewRNG(seed)
//	tree := rng.Tree(3, 4)   // *structstore.Map, three levels, up to four children
//
// # Segments
//
//	name, dir := testutil.Segment(t)
//	sh, _ := structstore.OpenShared(name, 1<<20, structstore.WithFileBacking(dir))
package testutil
