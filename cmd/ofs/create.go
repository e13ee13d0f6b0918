package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ofslabs/ofs/internal/ofs/object"
	"github.com/ofslabs/ofs/internal/ofs/objectid"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

var recreate bool

var createCmd = &cobra.Command{
	Use:   "create <src>",
	Short: "Create a new *.ofs container file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(args[0])
	},
}

func init() {
	createCmd.Flags().BoolVarP(&recreate, "recreate", "r", false, "remove the file first if it already exists")
}

// runCreate lays down the preset every fresh container starts from: a
// Header whose root points at an empty root directory Entry named "/".
func runCreate(src string) error {
	if recreate {
		if _, err := os.Stat(src); err == nil {
			if err := os.Remove(src); err != nil {
				return err
			}
		}
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := storage.Create(src, log)
	if err != nil {
		return err
	}
	defer s.Close()

	st := store.New(s, log)

	preset := []object.Object{
		object.Header{Root: objectid.New(1), Dead: objectid.None(), Clone: objectid.None()},
		object.Entry{
			Name: objectid.New(2),
			Body: objectid.None(),
			Next: objectid.None(),
			Kind: object.Directory,
			Size: 0,
			Mode: 0o777,
			UID:  uint32(os.Getuid()),
			GID:  uint32(os.Getgid()),
		},
		object.NewPayload([]byte("/")),
	}

	for _, obj := range preset {
		if _, err := st.Alloc(nil, obj); err != nil {
			return err
		}
	}

	fmt.Println("ok")
	return nil
}
