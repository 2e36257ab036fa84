package main

import (
	"fmt"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/spf13/cobra"
)

// instanceOptions holds the flags that identify an instance.
type instanceOptions struct {
	*rootOptions

	Scope  string
	Values map[string]string
}

func (o *instanceOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Scope, "scope", "harbor", "correlation scope of the instance")
	cmd.Flags().StringToStringVar(&o.Values, "key", nil, "correlation values of the instance (name=value)")
	_ = cmd.MarkFlagRequired("key")
}

func (o *instanceOptions) key() *correlation.Key {
	return correlation.NewKey(o.Scope, o.Values)
}

// newContinuationsCommand returns the "continuations" command.
func newContinuationsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continuations",
		Short: "List or add the continuation points of a persisted instance",
	}

	cmd.AddCommand(newContinuationsListCommand(root))
	cmd.AddCommand(newContinuationsAddCommand(root))

	return cmd
}

func newContinuationsListCommand(root *rootOptions) *cobra.Command {
	opts := &instanceOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the continuation points at which an instance is waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(s persistence.Store) error {
				cs, err := s.Continuations(cmd.Context(), opts.key())
				if err != nil {
					return err
				}

				for _, c := range cs {
					fmt.Fprintln(cmd.OutOrStdout(), c.Name)
				}

				return nil
			})
		},
	}

	opts.addFlags(cmd)

	return cmd
}

func newContinuationsAddCommand(root *rootOptions) *cobra.Command {
	opts := &instanceOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "add NAME...",
		Short: "Add continuation points to an instance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k := opts.key()

			return opts.withStore(ctx, func(s persistence.Store) error {
				inst, err := s.LoadInstance(ctx, k.Canonical())
				if err != nil {
					return err
				}

				inst.Key = k.Canonical()

				for _, n := range args {
					if !persistence.HasContinuation(inst.Continuations, n) {
						inst.Continuations = append(
							inst.Continuations,
							persistence.Continuation{Name: n},
						)
					}
				}

				if err := s.SaveInstance(ctx, inst); err != nil {
					return err
				}

				opts.logger.Log(
					"instance %s is at revision %d",
					k,
					inst.Revision+1,
				)

				return nil
			})
		},
	}

	opts.addFlags(cmd)

	return cmd
}
