package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ofslabs/ofs/internal/ofs/collector"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

var collectCmd = &cobra.Command{
	Use:   "collect <src>",
	Short: "Run a mark-and-sweep garbage collection pass over a *.ofs file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollect(args[0])
	},
}

func runCollect(src string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := storage.Open(src, true, log)
	if err != nil {
		return err
	}
	defer s.Close()

	st := store.New(s, log)

	total, err := st.Len()
	if err != nil {
		return err
	}
	fmt.Printf("found %d objects\n", total)

	if err := collector.New(st, log).Run(); err != nil {
		return err
	}

	fmt.Println("ok")
	return nil
}
