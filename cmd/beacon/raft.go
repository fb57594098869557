package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aquasecurity/table"
	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/rpc"
)

// TSO command

var tsoCmd = &cobra.Command{
	Use:   "tso",
	Short: "Timestamp oracle",
}

var tsoGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Allocate timestamps",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		count, _ := cmd.Flags().GetInt64("count")
		resp, err := sender.Tso(context.Background(), &rpc.TsoRequest{Count: count})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("physical=%d logical=%d count=%d\n",
			resp.Timestamp.Physical, resp.Timestamp.Logical, resp.Count)
		return nil
	},
}

// Raft commands

var raftCmd = &cobra.Command{
	Use:   "raft",
	Short: "Operate the replication groups",
}

func raftControl(cmd *cobra.Command, req *rpc.RaftControlRequest) (*rpc.RaftControlResponse, error) {
	sender, err := newSender(cmd)
	if err != nil {
		return nil, err
	}
	defer sender.Close()

	group, _ := cmd.Flags().GetString("group")
	req.Group = group
	resp, err := sender.RaftControl(context.Background(), req)
	if err != nil {
		return nil, err
	}
	if err := checkErrcode(resp, resp.ErrMsg); err != nil {
		return nil, err
	}
	return resp, nil
}

var raftStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a group's raft status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := raftControl(cmd, &rpc.RaftControlRequest{Op: rpc.RaftOpStatus})
		if err != nil {
			return err
		}
		s := resp.Status
		t := table.New(os.Stdout)
		t.SetHeaders("STATE", "LEADER", "TERM", "LAST INDEX", "APPLIED", "PEERS")
		t.AddRow(s.State, s.Leader, fmt.Sprint(s.Term),
			fmt.Sprint(s.LastIndex), fmt.Sprint(s.AppliedIndex),
			strings.Join(s.Peers, "\n"))
		t.Render()
		return nil
	},
}

var raftSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Force a snapshot of a group",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := raftControl(cmd, &rpc.RaftControlRequest{Op: rpc.RaftOpSnapshot}); err != nil {
			return err
		}
		fmt.Println("✓ Snapshot taken")
		return nil
	},
}

var raftTransferCmd = &cobra.Command{
	Use:   "transfer [PEER_ID]",
	Short: "Transfer group leadership",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.RaftControlRequest{Op: rpc.RaftOpTransfer}
		if len(args) == 1 {
			req.PeerID = args[0]
			req.PeerAddr, _ = cmd.Flags().GetString("peer-addr")
		}
		if _, err := raftControl(cmd, req); err != nil {
			return err
		}
		fmt.Println("✓ Leadership transferred")
		return nil
	},
}

var raftAddPeerCmd = &cobra.Command{
	Use:   "add-peer PEER_ID",
	Short: "Add a voter to a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerAddr, _ := cmd.Flags().GetString("peer-addr")
		if peerAddr == "" {
			return fmt.Errorf("--peer-addr is required")
		}
		req := &rpc.RaftControlRequest{
			Op:       rpc.RaftOpAddPeer,
			PeerID:   args[0],
			PeerAddr: peerAddr,
		}
		if _, err := raftControl(cmd, req); err != nil {
			return err
		}
		fmt.Printf("✓ Peer %s added\n", args[0])
		return nil
	},
}

var raftShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Shut down a group's raft node on the target server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := raftControl(cmd, &rpc.RaftControlRequest{Op: rpc.RaftOpShutdown}); err != nil {
			return err
		}
		fmt.Println("✓ Group shut down")
		return nil
	},
}

var raftRemovePeerCmd = &cobra.Command{
	Use:   "remove-peer PEER_ID",
	Short: "Remove a peer from a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &rpc.RaftControlRequest{
			Op:     rpc.RaftOpRemovePeer,
			PeerID: args[0],
		}
		if _, err := raftControl(cmd, req); err != nil {
			return err
		}
		fmt.Printf("✓ Peer %s removed\n", args[0])
		return nil
	},
}

func init() {
	tsoGenCmd.Flags().Int64("count", 1, "How many timestamps")
	tsoCmd.AddCommand(tsoGenCmd)

	raftCmd.PersistentFlags().String("group", rpc.GroupRegistry,
		"Replication group (registry, autoincr, tso)")
	raftTransferCmd.Flags().String("peer-addr", "", "Raft address of the target peer")
	raftAddPeerCmd.Flags().String("peer-addr", "", "Raft address of the new peer for this group")
	raftCmd.AddCommand(raftStatusCmd, raftSnapshotCmd, raftTransferCmd,
		raftAddPeerCmd, raftRemovePeerCmd, raftShutdownCmd)
}
