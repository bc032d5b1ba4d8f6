package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/kv"
)

func main() {
	dataDir := flag.String("data", "./data/bench", "Data directory")
	writers := flag.Int("writers", 4, "Concurrent writers")
	keysPerWriter := flag.Int("keys", 10000, "Keys per writer")
	valueSize := flag.Int("value-size", 256, "Value size in bytes")
	segmentSize := flag.Int64("segment-size", 8<<20, "Segment size threshold")
	compress := flag.Bool("compress", false, "Enable snappy value compression")
	readBack := flag.Bool("read", true, "Read every key back after the write phase")
	flag.Parse()

	opts := kv.DefaultOptions()
	opts.SegmentSize = *segmentSize
	opts.Compression = *compress

	store, err := kv.Open(*dataDir, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kv-bench: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	value := make([]byte, *valueSize)
	rand.Read(value)

	total := *writers * *keysPerWriter
	fmt.Printf("writing %d keys with %d writers...\n", total, *writers)

	start := time.Now()
	var wg sync.WaitGroup
	errCh := make(chan error, *writers)
	for w := 0; w < *writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < *keysPerWriter; i++ {
				key := fmt.Sprintf("bench/%04d/%08d", w, i)
				if err := store.Put([]byte(key), value); err != nil {
					errCh <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		fmt.Fprintf(os.Stderr, "kv-bench: write failed: %v\n", err)
		os.Exit(1)
	}

	writeDur := time.Since(start)
	fmt.Printf("write: %d ops in %v (%.0f ops/s)\n",
		total, writeDur.Round(time.Millisecond), float64(total)/writeDur.Seconds())

	if err := store.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "kv-bench: flush failed: %v\n", err)
		os.Exit(1)
	}

	if *readBack {
		start = time.Now()
		for w := 0; w < *writers; w++ {
			for i := 0; i < *keysPerWriter; i++ {
				key := fmt.Sprintf("bench/%04d/%08d", w, i)
				if _, err := store.Get([]byte(key)); err != nil {
					fmt.Fprintf(os.Stderr, "kv-bench: read failed: %v\n", err)
					os.Exit(1)
				}
			}
		}
		readDur := time.Since(start)
		fmt.Printf("read:  %d ops in %v (%.0f ops/s)\n",
			total, readDur.Round(time.Millisecond), float64(total)/readDur.Seconds())
	}

	st := store.Stats()
	fmt.Printf("segments: %d  disk: %d bytes  uncompacted: %d bytes\n",
		st.Segments, st.DiskUsage, st.UncompactedBytes)
}
