// Package lstore implements a local, single-node store that bundles all
// collection engines on one db.KVDB substrate.
//
// Key Features:
//   - One substrate, one record lock table shared by the hash and kv engines
//   - Range operations over all collection types (Volume, RangeDelete)
//   - Lists and sets can be added with RegisterCollection
//   - Plain text metrics export (WriteMetrics)
//
// Usage Example:
//
//	cfg := common.DefaultStoreConfig()
//	s, err := lstore.NewLocalStore(cfg.ToDBFactory(), nil)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	_, _ = s.Hash().Set([]byte("user:1"), []byte("name"), []byte("alice"))
//	_ = s.KV().Set([]byte("counter"), []byte("1"))
//
//	n, err := s.RangeDelete([]byte("user:"), []byte("user:~"), 0)
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Iterators are not.
package lstore
