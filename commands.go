package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stevemurr/json-doc-server/db"
)

// operation runs one store call and returns its success message.
type operation func(cmd *cobra.Command, d *db.DB, args []string) (string, error)

// storeCommand wraps op in a command that opens the store, runs op and
// prints the message.
func storeCommand(use, short string, args cobra.PositionalArgs, op operation) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, closeStore, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer closeStore()
			msg, err := op(cmd, d, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

// parseObject decodes a JSON object argument, keeping numbers verbatim.
func parseObject(arg string) (map[string]any, error) {
	obj, err := db.Decode([]byte(arg))
	if err != nil {
		return nil, errors.Wrap(err, "parsing JSON argument")
	}
	return obj, nil
}

func operationCommands() []*cobra.Command {
	setCmd := storeCommand("set FILE KEY VALUE", "Set KEY in FILE to VALUE", cobra.ExactArgs(3),
		func(cmd *cobra.Command, d *db.DB, args []string) (string, error) {
			var value any = args[2]
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				dec := json.NewDecoder(bytes.NewReader([]byte(args[2])))
				dec.UseNumber()
				if err := dec.Decode(&value); err != nil {
					return "", errors.Wrap(err, "parsing VALUE")
				}
			}
			return d.Set(args[0], args[1], value)
		})
	setCmd.Flags().Bool("json", false, "parse VALUE as JSON instead of storing it as a string")

	patchCmd := storeCommand("patch FILE PATCH", "Apply a JSON merge patch (or JSON patch) to FILE", cobra.ExactArgs(2),
		func(cmd *cobra.Command, d *db.DB, args []string) (string, error) {
			kind := db.MergePatch
			if jp, _ := cmd.Flags().GetBool("json-patch"); jp {
				kind = db.JSONPatch
			}
			return d.Patch(args[0], []byte(args[1]), kind)
		})
	patchCmd.Flags().Bool("json-patch", false, "treat PATCH as an RFC 6902 operation list")

	return []*cobra.Command{
		storeCommand("get FILE KEY", "Print the value of KEY in FILE", cobra.ExactArgs(2),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				return d.Get(args[0], args[1])
			}),
		setCmd,
		storeCommand("remove FILE KEY", "Remove KEY from FILE", cobra.ExactArgs(2),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				return d.Remove(args[0], args[1])
			}),
		patchCmd,
		storeCommand("create FILE [JSON]", "Create FILE holding JSON (default {})", cobra.RangeArgs(1, 2),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				content := map[string]any{}
				if len(args) == 2 {
					var err error
					if content, err = parseObject(args[1]); err != nil {
						return "", err
					}
				}
				return d.CreateFile(args[0], content)
			}),
		storeCommand("delete FILE", "Delete FILE", cobra.ExactArgs(1),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				return d.DeleteFile(args[0])
			}),
		storeCommand("merge", "Merge every document into "+db.MergedFile, cobra.NoArgs,
			func(_ *cobra.Command, d *db.DB, _ []string) (string, error) {
				return d.MergeData()
			}),
		storeCommand("union A B", "Write the keys of A and B to "+db.UnionFile, cobra.ExactArgs(2),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				return d.Union(args[0], args[1])
			}),
		storeCommand("intersect A B", "Write the keys of A present in B to "+db.IntersectFile, cobra.ExactArgs(2),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				return d.Intersect(args[0], args[1])
			}),
		storeCommand("difference A B", "Write the keys missing from one side to "+db.DifferenceFile, cobra.ExactArgs(2),
			func(_ *cobra.Command, d *db.DB, args []string) (string, error) {
				return d.Difference(args[0], args[1])
			}),
		storeCommand("reset", "Restore the seed documents and empty the audit log", cobra.NoArgs,
			func(_ *cobra.Command, d *db.DB, _ []string) (string, error) {
				return d.Reset()
			}),
	}
}
