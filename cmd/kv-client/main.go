package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/client"
)

const usage = `Usage: kv-client -addr <url> <command> [args]

Commands:
  set <key> <value>   Write a value
  get <key>           Read a value
  rm <key>            Delete a key
  keys                List all live keys
  compact             Compact sealed segments
  flush               Force durability of acknowledged writes
  stats               Print server statistics
`

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "Server base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*addr, client.Options{Timeout: *timeout})
	if err := run(c, args); err != nil {
		fmt.Fprintf(os.Stderr, "kv-client: %v\n", err)
		os.Exit(1)
	}
}

func run(c *client.Client, args []string) error {
	ctx := context.Background()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "set":
		if len(rest) != 2 {
			return fmt.Errorf("set requires <key> <value>")
		}
		return c.Put(ctx, rest[0], []byte(rest[1]))

	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("get requires <key>")
		}
		value, err := c.Get(ctx, rest[0])
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
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
		return c.Delete(ctx, rest[0])

	case "keys":
		keys, err := c.Keys(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil

	case "compact":
		reclaimed, err := c.Compact(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d bytes\n", reclaimed)
		return nil

	case "flush":
		return c.Flush(ctx)

	case "stats":
		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-18s %d\n", name+":", stats[name])
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
