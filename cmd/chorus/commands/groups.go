package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List known groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := wire.Groups.ListGroups()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s\t%s\n", name, all[name])
			}
			return nil
		},
	}
}
