// Package model defines core types shared by the write path.
//
// # Identity Types
//
//   - ID: vector identifier, unique within a collection (uint64)
//
// # Request Types
//
//   - Vectors: a caller-owned batch of float32 or binary vectors, optionally
//     carrying identifiers. When no identifiers are supplied, the write buffer
//     generates them and writes them back into Vectors.IDs.
//
// # Example
//
//	v := &model.Vectors{
//	    Count: 2,
//	    Float: []float32{0.1, 0.2, 0.3, 0.4}, // 2 vectors, dim 2
//	}
//	ids, err := db.Insert(ctx, "docs", v)
//	// ids == v.IDs
package model
