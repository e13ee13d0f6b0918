package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <src>",
	Short: "Print every object slot in a *.ofs container file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func runInspect(src string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := storage.Open(src, false, log)
	if err != nil {
		return err
	}
	defer s.Close()

	st := store.New(s, log)

	all, err := st.All()
	if err != nil {
		return err
	}

	for _, row := range all {
		fmt.Printf("[%d] = %+v\n", row.OID.Get(), row.Obj)
	}

	return nil
}
