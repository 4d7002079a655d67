package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/C5T/Current-sub007/tools/streamcatalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing persister logs and streamdump backups")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := streamcatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := streamcatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s: %d entries [index %d..%d] [us %d..%d] head_us=%d (%d bytes)\n",
			entry.Path, entry.Entries, entry.FirstIndex, entry.LastIndex, entry.FirstUS, entry.LastUS, entry.HeadUS, entry.SizeOnDisk)
	}
}
