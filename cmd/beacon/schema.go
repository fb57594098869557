package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aquasecurity/table"
	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

// checkErrcode turns a non-success response into a CLI error so the
// process exits non-zero.
func checkErrcode(resp rpc.Response, msg string) error {
	if !resp.Errcode().OK() {
		return fmt.Errorf("%s: %s", resp.Errcode(), msg)
	}
	return nil
}

// App commands

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage apps",
}

var appCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		quota, _ := cmd.Flags().GetInt64("quota")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:  rpc.OpCreateApp,
			App: &types.App{Name: args[0], Quota: quota},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ App %s created\n", args[0])
		return nil
	},
}

var appRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove an empty app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:  rpc.OpDropApp,
			App: &types.App{Name: args[0]},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ App %s removed\n", args[0])
		return nil
	},
}

var appModifyCmd = &cobra.Command{
	Use:   "modify NAME",
	Short: "Modify an app's quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		quota, _ := cmd.Flags().GetInt64("quota")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:  rpc.OpModifyApp,
			App: &types.App{Name: args[0], Quota: quota},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ App %s modified\n", args[0])
		return nil
	},
}

var appListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List apps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		req := &rpc.QueryRequest{Op: rpc.QueryApp}
		if len(args) == 1 {
			req.AppName = args[0]
		}
		resp, err := sender.Query(context.Background(), req)
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}

		t := table.New(os.Stdout)
		t.SetHeaders("ID", "NAME", "QUOTA", "VERSION")
		for _, a := range resp.Apps {
			t.AddRow(fmt.Sprint(a.ID), a.Name, fmt.Sprint(a.Quota), fmt.Sprint(a.Version))
		}
		t.Render()
		return nil
	},
}

// Zone commands

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Manage zones",
}

var zoneCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a zone under an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		quota, _ := cmd.Flags().GetInt64("quota")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:   rpc.OpCreateZone,
			Zone: &types.Zone{AppName: app, Name: args[0], Quota: quota},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Zone %s.%s created\n", app, args[0])
		return nil
	},
}

var zoneRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove an empty zone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:   rpc.OpDropZone,
			Zone: &types.Zone{AppName: app, Name: args[0]},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Zone %s.%s removed\n", app, args[0])
		return nil
	},
}

var zoneModifyCmd = &cobra.Command{
	Use:   "modify NAME",
	Short: "Modify a zone's quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		quota, _ := cmd.Flags().GetInt64("quota")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:   rpc.OpModifyZone,
			Zone: &types.Zone{AppName: app, Name: args[0], Quota: quota},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Zone %s.%s modified\n", app, args[0])
		return nil
	},
}

var zoneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List zones",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		resp, err := sender.Query(context.Background(), &rpc.QueryRequest{
			Op:      rpc.QueryZone,
			AppName: app,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}

		t := table.New(os.Stdout)
		t.SetHeaders("ID", "APP", "NAME", "QUOTA", "VERSION")
		for _, z := range resp.Zones {
			t.AddRow(fmt.Sprint(z.ID), z.AppName, z.Name, fmt.Sprint(z.Quota), fmt.Sprint(z.Version))
		}
		t.Render()
		return nil
	},
}

// Servlet commands

var servletCmd = &cobra.Command{
	Use:   "servlet",
	Short: "Manage servlets",
}

var servletCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a servlet under a zone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		zone, _ := cmd.Flags().GetString("zone")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:      rpc.OpCreateServlet,
			Servlet: &types.Servlet{AppName: app, ZoneName: zone, Name: args[0]},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Servlet %s.%s.%s created\n", app, zone, args[0])
		return nil
	},
}

var servletRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove an empty servlet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		zone, _ := cmd.Flags().GetString("zone")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:      rpc.OpDropServlet,
			Servlet: &types.Servlet{AppName: app, ZoneName: zone, Name: args[0]},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Servlet %s.%s.%s removed\n", app, zone, args[0])
		return nil
	},
}

var servletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servlets",
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		app, _ := cmd.Flags().GetString("app")
		zone, _ := cmd.Flags().GetString("zone")
		resp, err := sender.Query(context.Background(), &rpc.QueryRequest{
			Op:       rpc.QueryServlet,
			AppName:  app,
			ZoneName: zone,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}

		t := table.New(os.Stdout)
		t.SetHeaders("ID", "APP", "ZONE", "NAME", "VERSION")
		for _, sv := range resp.Servlets {
			t.AddRow(fmt.Sprint(sv.ID), sv.AppName, sv.ZoneName, sv.Name, fmt.Sprint(sv.Version))
		}
		t.Render()
		return nil
	},
}

func init() {
	appCreateCmd.Flags().Int64("quota", 0, "App quota")
	appModifyCmd.Flags().Int64("quota", 0, "New quota")
	appCmd.AddCommand(appCreateCmd, appRemoveCmd, appModifyCmd, appListCmd)

	zoneCmd.PersistentFlags().String("app", "", "Parent app name")
	zoneCreateCmd.Flags().Int64("quota", 0, "Zone quota")
	zoneModifyCmd.Flags().Int64("quota", 0, "New quota")
	zoneCmd.AddCommand(zoneCreateCmd, zoneRemoveCmd, zoneModifyCmd, zoneListCmd)

	servletCmd.PersistentFlags().String("app", "", "Parent app name")
	servletCmd.PersistentFlags().String("zone", "", "Parent zone name")
	servletCmd.AddCommand(servletCreateCmd, servletRemoveCmd, servletListCmd)
}
