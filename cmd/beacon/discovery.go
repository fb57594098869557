package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aquasecurity/table"
	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Instance registration and naming",
}

func instanceFromFlags(cmd *cobra.Command, address string) *types.Instance {
	app, _ := cmd.Flags().GetString("app")
	zone, _ := cmd.Flags().GetString("zone")
	servlet, _ := cmd.Flags().GetString("servlet")
	env, _ := cmd.Flags().GetString("env")
	color, _ := cmd.Flags().GetString("color")
	status, _ := cmd.Flags().GetString("status")
	return &types.Instance{
		Address:     address,
		AppName:     app,
		ZoneName:    zone,
		ServletName: servlet,
		Env:         env,
		Color:       color,
		Status:      types.InstanceStatus(status),
	}
}

var discoveryRegisterCmd = &cobra.Command{
	Use:   "register ADDRESS",
	Short: "Register (or heartbeat) an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		resp, err := sender.Register(context.Background(), &rpc.RegisterRequest{
			Instance: *instanceFromFlags(cmd, args[0]),
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s registered\n", args[0])
		return nil
	},
}

var discoveryCancelCmd = &cobra.Command{
	Use:   "cancel ADDRESS",
	Short: "Cancel an instance registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		resp, err := sender.Cancel(context.Background(), &rpc.RegisterRequest{
			Instance: types.Instance{Address: args[0]},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s cancelled\n", args[0])
		return nil
	},
}

var discoveryNamingCmd = &cobra.Command{
	Use:   "naming APP",
	Short: "Resolve healthy instances by zone, env and color",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		zones, _ := cmd.Flags().GetStringSlice("zone")
		envs, _ := cmd.Flags().GetStringSlice("env")
		colors, _ := cmd.Flags().GetStringSlice("color")
		resp, err := sender.Naming(context.Background(), &rpc.NamingRequest{
			AppName: args[0],
			Zones:   zones,
			Envs:    envs,
			Colors:  colors,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}

		t := table.New(os.Stdout)
		t.SetHeaders("ADDRESS", "ZONE", "SERVLET", "ENV", "COLOR", "AGE")
		now := time.Now().Unix()
		for _, in := range resp.Instances {
			t.AddRow(in.Address, in.ZoneName, in.ServletName, in.Env, in.Color,
				fmt.Sprintf("%ds", now-in.MTime))
		}
		t.Render()
		return nil
	},
}

var discoveryInstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List registered instances under a prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		zone, _ := cmd.Flags().GetString("zone")
		servlet, _ := cmd.Flags().GetString("servlet")
		resp, err := sender.Query(context.Background(), &rpc.QueryRequest{
			Op:          rpc.QueryInstanceFlatten,
			AppName:     app,
			ZoneName:    zone,
			ServletName: servlet,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}

		t := table.New(os.Stdout)
		t.SetHeaders("ADDRESS", "APP", "ZONE", "SERVLET", "ENV", "COLOR", "STATUS", "VERSION")
		for _, in := range resp.Instances {
			t.AddRow(in.Address, in.AppName, in.ZoneName, in.ServletName,
				in.Env, in.Color, string(in.Status), fmt.Sprint(in.Version))
		}
		t.Render()
		return nil
	},
}

var discoveryWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream instance registration events",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		kinds, _ := cmd.Flags().GetStringSlice("kind")
		if len(kinds) == 0 {
			kinds = []string{rpc.EventInstanceRegistered, rpc.EventInstanceCancelled}
		}
		stream, err := sender.Watch(context.Background(), &rpc.WatchRequest{Kinds: kinds})
		if err != nil {
			return err
		}
		for {
			ev, err := stream.Recv()
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", ev.Kind, ev.Key)
		}
	},
}

func init() {
	discoveryRegisterCmd.Flags().String("app", "", "App name")
	discoveryRegisterCmd.Flags().String("zone", "", "Zone name")
	discoveryRegisterCmd.Flags().String("servlet", "", "Servlet name")
	discoveryRegisterCmd.Flags().String("env", "", "Deployment env tag")
	discoveryRegisterCmd.Flags().String("color", "", "Deployment color tag")
	discoveryRegisterCmd.Flags().String("status", string(types.InstanceStatusNormal),
		"Instance status ("+strings.Join([]string{
			string(types.InstanceStatusNormal),
			string(types.InstanceStatusMigrate),
			string(types.InstanceStatusSlow),
			string(types.InstanceStatusFaulty),
		}, ", ")+")")

	discoveryNamingCmd.Flags().StringSlice("zone", nil, "Zone filter (repeatable)")
	discoveryNamingCmd.Flags().StringSlice("env", nil, "Env filter (repeatable)")
	discoveryNamingCmd.Flags().StringSlice("color", nil, "Color filter (repeatable)")

	discoveryInstancesCmd.Flags().String("app", "", "App prefix")
	discoveryInstancesCmd.Flags().String("zone", "", "Zone prefix")
	discoveryInstancesCmd.Flags().String("servlet", "", "Servlet prefix")

	discoveryWatchCmd.Flags().StringSlice("kind", nil, "Event kind filter (repeatable)")

	discoveryCmd.AddCommand(discoveryRegisterCmd, discoveryCancelCmd,
		discoveryNamingCmd, discoveryInstancesCmd, discoveryWatchCmd)
}
