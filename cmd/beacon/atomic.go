package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/rpc"
)

var atomicCmd = &cobra.Command{
	Use:   "atomic",
	Short: "Manage per-servlet auto-increment counters",
}

var atomicCreateCmd = &cobra.Command{
	Use:   "create SERVLET_ID",
	Short: "Create a counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		servletID, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		op := &rpc.AutoIncrOp{ServletID: servletID}
		if cmd.Flags().Changed("start") {
			start, _ := cmd.Flags().GetUint64("start")
			op.Start = &start
		}
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:       rpc.OpAddServletID,
			AutoIncr: op,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Counter %d created at %d\n", servletID, resp.StartID)
		return nil
	},
}

var atomicRemoveCmd = &cobra.Command{
	Use:   "remove SERVLET_ID",
	Short: "Remove a counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		servletID, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:       rpc.OpDropServletID,
			AutoIncr: &rpc.AutoIncrOp{ServletID: servletID},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Counter %d removed\n", servletID)
		return nil
	},
}

var atomicGenCmd = &cobra.Command{
	Use:   "gen SERVLET_ID",
	Short: "Allocate a range of ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		servletID, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetUint64("count")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:       rpc.OpGenID,
			AutoIncr: &rpc.AutoIncrOp{ServletID: servletID, Count: count},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("[%d, %d)\n", resp.StartID, resp.EndID)
		return nil
	},
}

var atomicUpdateCmd = &cobra.Command{
	Use:   "update SERVLET_ID",
	Short: "Reset or advance a counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		servletID, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		op := &rpc.AutoIncrOp{ServletID: servletID}
		if cmd.Flags().Changed("start") {
			start, _ := cmd.Flags().GetUint64("start")
			op.Start = &start
		}
		if cmd.Flags().Changed("increment") {
			inc, _ := cmd.Flags().GetUint64("increment")
			op.Increment = &inc
		}
		op.Force, _ = cmd.Flags().GetBool("force")

		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:       rpc.OpUpdateAutoIncr,
			AutoIncr: op,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Counter %d now at %d\n", servletID, resp.StartID)
		return nil
	},
}

func parseInt64(s string) (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("bad servlet id %q", s)
	}
	return v, nil
}

func init() {
	atomicCreateCmd.Flags().Uint64("start", 1, "Starting value")
	atomicGenCmd.Flags().Uint64("count", 1, "How many ids to allocate")
	atomicUpdateCmd.Flags().Uint64("start", 0, "Reset the counter to this value")
	atomicUpdateCmd.Flags().Uint64("increment", 0, "Advance the counter by this much")
	atomicUpdateCmd.Flags().Bool("force", false, "Allow moving the counter backwards")
	atomicCmd.AddCommand(atomicCreateCmd, atomicRemoveCmd, atomicGenCmd, atomicUpdateCmd)
}
