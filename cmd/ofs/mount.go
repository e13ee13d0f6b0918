package main

import (
	"context"

	"github.com/spf13/cobra"

	fuse "github.com/ofslabs/ofs"
	"github.com/ofslabs/ofs/internal/ofs/bridge"
	ofsclone "github.com/ofslabs/ofs/internal/ofs/clone"
	"github.com/ofslabs/ofs/internal/ofs/filesystem"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

var (
	mountClone  string
	mountReadOnly bool
	mountNoGrow   bool
)

var mountCmd = &cobra.Command{
	Use:   "mount <src> <dst>",
	Short: "Mount a *.ofs container file onto a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(args[0], args[1])
	},
}

func init() {
	mountCmd.Flags().StringVar(&mountClone, "clone", "", "mount the named clone instead of the main tree")
	mountCmd.Flags().BoolVar(&mountReadOnly, "ro", false, "force a read-only mount")
	mountCmd.Flags().BoolVar(&mountNoGrow, "no-grow", false, "don't allow the *.ofs file to grow; recycle dead slots only")
}

func runMount(src, dst string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	s, err := storage.Open(src, !mountNoGrow, log)
	if err != nil {
		return err
	}
	defer s.Close()

	st := store.New(s, log)

	origin, err := resolveOrigin(st, mountClone, mountReadOnly)
	if err != nil {
		return err
	}

	fs, err := filesystem.New(st, origin, log)
	if err != nil {
		return err
	}

	mfs, err := fuse.Mount(dst, bridge.New(fs), &fuse.MountConfig{})
	if err != nil {
		return err
	}

	return mfs.Join(context.Background())
}

// resolveOrigin picks the main tree or a named clone, folding --ro and (for
// clones) the clone's own writability together the way the original's
// mount.rs does.
func resolveOrigin(st *store.Store, cloneName string, readOnly bool) (filesystem.Origin, error) {
	if cloneName == "" {
		return filesystem.MainOrigin(!readOnly), nil
	}

	cl, err := ofsclone.New(st).Find(cloneName)
	if err != nil {
		return filesystem.Origin{}, err
	}

	return filesystem.CloneOrigin(cl.OID, cl.IsWritable && !readOnly), nil
}
