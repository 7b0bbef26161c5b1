package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory)
	})

	b.Run("PutLargeValue", func(b *testing.B) {
		benchmarkPutLargeValue(b, factory)
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory)
	})

	b.Run("Batch", func(b *testing.B) {
		benchmarkBatch(b, factory)
	})

	b.Run("BatchInheritTTL", func(b *testing.B) {
		benchmarkBatchInheritTTL(b, factory)
	})

	b.Run("Scan", func(b *testing.B) {
		benchmarkScan(b, factory)
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func openBench(b *testing.B, factory DBFactory) db.KVDB {
	database := factory(b, time.Now)
	b.Cleanup(func() { _ = database.Close() })
	return database
}

func benchmarkPut(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeaturePut)

	var counter atomic.Int64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := []byte(fmt.Sprintf("key-%d", counter.Add(1)))
			if err := database.Put(key, value); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkPutLargeValue(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeaturePut)

	value := bytes.Repeat([]byte("x"), 64*1024)

	b.SetBytes(int64(len(value)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := database.Put([]byte(fmt.Sprintf("large-%d", i%1000)), value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeatureGet|db.FeaturePut)

	const numKeys = 10_000
	for i := 0; i < numKeys; i++ {
		_ = database.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			if _, err := database.Get([]byte(fmt.Sprintf("key-%d", r.Intn(numKeys)))); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkBatch(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeatureBatch)

	batch := db.NewBatch()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch.Reset()
		for j := 0; j < 16; j++ {
			batch.Put([]byte(fmt.Sprintf("batch-%d-%d", i%100, j)), []byte("value"))
		}
		if err := database.Write(batch); err != nil {
			b.Fatal(err)
		}
	}
}

// benchmarkBatchInheritTTL models a hash field write: one meta record with a ttl and one inheriting field
func benchmarkBatchInheritTTL(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeatureBatch|db.FeatureTTL)

	meta := []byte("meta")
	setup := db.NewBatch()
	setup.PutWithTTL(meta, []byte("m"), 3600)
	if err := database.Write(setup); err != nil {
		b.Fatal(err)
	}

	batch := db.NewBatch()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch.Reset()
		batch.PutKeepTTL(meta, []byte("m"))
		batch.PutInheritTTL([]byte(fmt.Sprintf("field-%d", i%1000)), []byte("value"), meta)
		if err := database.Write(batch); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkScan(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeatureIterator|db.FeatureBatch)

	batch := db.NewBatch()
	for i := 0; i < 10_000; i++ {
		batch.Put([]byte(fmt.Sprintf("scan-%05d", i)), []byte("value"))
	}
	if err := database.Write(batch); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it, err := database.NewIterator(nil)
		if err != nil {
			b.Fatal(err)
		}
		n := 0
		for it.Seek([]byte("scan-")); it.Valid() && n < 100; it.Next() {
			n++
		}
		_ = it.Close()
	}
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeatureSave|db.FeatureLoad|db.FeatureBatch)

	batch := db.NewBatch()
	for i := 0; i < 10_000; i++ {
		batch.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}
	if err := database.Write(batch); err != nil {
		b.Fatal(err)
	}

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := database.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := openBench(b, factory)
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(buf.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkMixedUsage(b *testing.B, factory DBFactory) {
	database := openBench(b, factory)
	requireFeature(b, database, db.FeatureGet|db.FeaturePut|db.FeatureDelete)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		_ = database.Put([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := []byte(fmt.Sprintf("key-%d", r.Intn(numKeys)))
			switch op := r.Intn(10); {
			case op < 7:
				_, _ = database.Get(key)
			case op < 9:
				_ = database.Put(key, []byte("updated"))
			default:
				_ = database.Delete(key)
			}
		}
	})
}
