package btree

import (
	"math/rand"
	"testing"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
)

func BenchmarkAddRandom(b *testing.B) {
	s := setupStore(b, 4096)
	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	update(b, s, func(txn *pagefile.WriteTxn) error {
		tree, err := Create[uint64, uint64](txn, "bench", uintConfig, nil)
		if err != nil {
			return err
		}
		for i := 0; i < b.N; i++ {
			k := rng.Uint64()
			if err := tree.Add(k, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func BenchmarkBulkLoad(b *testing.B) {
	pairs := identityPairs(seq(100_000))
	for i := 0; i < b.N; i++ {
		s := setupStore(b, 4096)
		update(b, s, func(txn *pagefile.WriteTxn) error {
			_, err := Create(txn, "bench", uintConfig, pairs)
			return err
		})
	}
}

func BenchmarkGet(b *testing.B) {
	s := setupStore(b, 4096)
	update(b, s, func(txn *pagefile.WriteTxn) error {
		_, err := Create(txn, "bench", uintConfig, identityPairs(seq(100_000)))
		return err
	})
	b.ResetTimer()
	read(b, s, func(txn *pagefile.ReadTxn) error {
		tree, err := Open(txn, "bench", uintConfig)
		if err != nil {
			return err
		}
		for i := 0; i < b.N; i++ {
			if _, err := tree.Get(uint64(i % 100_000)); err != nil {
				return err
			}
		}
		return nil
	})
}
