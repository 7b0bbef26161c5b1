package util

import (
	"bytes"

	"github.com/ValentinKolb/hkv/lib/db"
)

// --------------------------------------------------------------------------
// Prefix Bounds
// --------------------------------------------------------------------------

// PrefixUpperBound returns the smallest key that is greater than every key starting with prefix,
// or nil if there is none (prefix is empty or only 0xFF bytes).
func PrefixUpperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			upper := CopyBytes(prefix[:i+1])
			upper[i]++
			return upper
		}
	}
	return nil
}

// WithPrefix applies the Prefix of opts to an engine iterator that has no native bounds
func WithPrefix(it db.Iterator, opts *db.IterOptions) db.Iterator {
	if opts == nil || len(opts.Prefix) == 0 {
		return it
	}
	return &prefixIterator{Iterator: it, prefix: CopyBytes(opts.Prefix)}
}

type prefixIterator struct {
	db.Iterator
	prefix []byte
}

func (p *prefixIterator) Seek(key []byte) {
	if bytes.Compare(key, p.prefix) < 0 {
		key = p.prefix
	}
	p.Iterator.Seek(key)
}

func (p *prefixIterator) Valid() bool {
	return p.Iterator.Valid() && bytes.HasPrefix(p.Iterator.Key(), p.prefix)
}
