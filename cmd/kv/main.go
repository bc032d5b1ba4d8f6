package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dd0wney/cluso-kv/pkg/kv"
)

const usage = `Usage: kv -data <dir> <command> [args]

Commands:
  set <key> <value>   Write a value
  get <key>           Read a value
  rm <key>            Delete a key
  keys                List all live keys
  compact             Compact sealed segments
  stats               Print store statistics
`

func main() {
	dataDir := flag.String("data", "./data", "Data directory")
	sync := flag.Bool("sync", false, "fsync after every write")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts := kv.DefaultOptions()
	opts.SyncOnPut = *sync
	// One-shot invocations never accumulate enough garbage to need the
	// background worker.
	opts.AutoCompaction = false

	store, err := kv.Open(*dataDir, opts)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if err := run(store, args); err != nil {
		store.Close()
		fatal(err)
	}
}

func run(store *kv.Store, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "set":
		if len(rest) != 2 {
			return fmt.Errorf("set requires <key> <value>")
		}
		return store.Put([]byte(rest[0]), []byte(rest[1]))

	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("get requires <key>")
		}
		value, err := store.Get([]byte(rest[0]))
		if err != nil {
			if kv.IsNotFound(err) {
				fmt.Println("(not found)")
				return nil
			}
			return err
		}
		fmt.Printf("%s\n", value)
		return nil

	case "rm":
		if len(rest) != 1 {
			return fmt.Errorf("rm requires <key>")
		}
		return store.Delete([]byte(rest[0]))

	case "keys":
		for _, key := range store.Keys() {
			fmt.Println(key)
		}
		return nil

	case "compact":
		before := store.Stats()
		if err := store.Compact(); err != nil {
			return err
		}
		after := store.Stats()
		fmt.Printf("reclaimed %d bytes (%d -> %d segments)\n",
			before.DiskUsage-after.DiskUsage, before.Segments, after.Segments)
		return nil

	case "stats":
		st := store.Stats()
		fmt.Printf("live_keys:         %d\n", st.LiveKeys)
		fmt.Printf("segments:          %d (%d sealed)\n", st.Segments, st.SealedSegments)
		fmt.Printf("disk_usage:        %d\n", st.DiskUsage)
		fmt.Printf("uncompacted_bytes: %d\n", st.UncompactedBytes)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "kv: %v\n", err)
	os.Exit(1)
}
