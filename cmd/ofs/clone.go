package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	ofsclone "github.com/ofslabs/ofs/internal/ofs/clone"
	"github.com/ofslabs/ofs/internal/ofs/storage"
	"github.com/ofslabs/ofs/internal/ofs/store"
)

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Create, delete and list named clones of a *.ofs container's tree",
}

var cloneMode string

var cloneCreateCmd = &cobra.Command{
	Use:   "create <src> <name>",
	Short: "Create a new clone rooted at the container's current tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		isWritable, err := parseCloneMode(cloneMode)
		if err != nil {
			return err
		}
		return withCloneController(args[0], func(c *ofsclone.Controller) error {
			if err := c.Create(args[1], isWritable); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		})
	},
}

var cloneDeleteCmd = &cobra.Command{
	Use:   "delete <src> <name>",
	Short: "Delete a clone by name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCloneController(args[0], func(c *ofsclone.Controller) error {
			if err := c.Delete(args[1]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		})
	},
}

var cloneListCmd = &cobra.Command{
	Use:   "list <src>",
	Short: "List every clone, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCloneController(args[0], func(c *ofsclone.Controller) error {
			all, err := c.All()
			if err != nil {
				return err
			}

			fmt.Printf("found %d clone(s):\n", len(all))
			for _, cl := range all {
				fmt.Printf("- #%d: %s\n", cl.OID.Get(), cl.Name)
			}
			return nil
		})
	},
}

func init() {
	cloneCreateCmd.Flags().StringVar(&cloneMode, "mode", "rw", `clone mode, either "rw" or "ro"`)

	cloneCmd.AddCommand(cloneCreateCmd)
	cloneCmd.AddCommand(cloneDeleteCmd)
	cloneCmd.AddCommand(cloneListCmd)
}

func parseCloneMode(mode string) (bool, error) {
	switch mode {
	case "rw":
		return true, nil
	case "ro":
		return false, nil
	default:
		return false, errors.Errorf(`invalid clone mode %q: expected "rw" or "ro"`, mode)
	}
}

func withCloneController(src string, fn func(*ofsclone.Controller) error) error {
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

	return fn(ofsclone.New(store.New(s, log)))
}
