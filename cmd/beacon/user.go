package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aquasecurity/table"
	"github.com/spf13/cobra"

	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and privileges",
}

// parsePrivileges turns --zone-priv app.zone[:rw] and
// --servlet-priv app.zone.servlet[:rw] flags into grants.
func parsePrivileges(zones, servlets []string) ([]types.ZonePrivilege, []types.ServletPrivilege, error) {
	rwOf := func(spec string) (string, types.RW, error) {
		rw := types.PrivilegeRead
		path := spec
		if idx := strings.LastIndex(spec, ":"); idx >= 0 {
			path = spec[:idx]
			switch strings.ToLower(spec[idx+1:]) {
			case "r", "read":
				rw = types.PrivilegeRead
			case "w", "rw", "write":
				rw = types.PrivilegeWrite
			default:
				return "", "", fmt.Errorf("bad privilege flag %q", spec)
			}
		}
		return path, rw, nil
	}

	var zps []types.ZonePrivilege
	for _, spec := range zones {
		path, rw, err := rwOf(spec)
		if err != nil {
			return nil, nil, err
		}
		parts := strings.Split(path, ".")
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("bad zone privilege %q, want app.zone", spec)
		}
		zps = append(zps, types.ZonePrivilege{AppName: parts[0], ZoneName: parts[1], RW: rw})
	}

	var sps []types.ServletPrivilege
	for _, spec := range servlets {
		path, rw, err := rwOf(spec)
		if err != nil {
			return nil, nil, err
		}
		parts := strings.Split(path, ".")
		if len(parts) != 3 {
			return nil, nil, fmt.Errorf("bad servlet privilege %q, want app.zone.servlet", spec)
		}
		sps = append(sps, types.ServletPrivilege{AppName: parts[0], ZoneName: parts[1], ServletName: parts[2], RW: rw})
	}
	return zps, sps, nil
}

func userMutation(cmd *cobra.Command, op, username string) error {
	sender, err := newSender(cmd)
	if err != nil {
		return err
	}
	defer sender.Close()

	password, _ := cmd.Flags().GetString("password")
	ips, _ := cmd.Flags().GetStringSlice("ip")
	zonePrivs, _ := cmd.Flags().GetStringSlice("zone-priv")
	servletPrivs, _ := cmd.Flags().GetStringSlice("servlet-priv")
	zps, sps, err := parsePrivileges(zonePrivs, servletPrivs)
	if err != nil {
		return err
	}

	resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
		Op: op,
		User: &rpc.UserOp{
			Username:          username,
			Password:          password,
			AllowedIPs:        ips,
			ZonePrivileges:    zps,
			ServletPrivileges: sps,
		},
	})
	if err != nil {
		return err
	}
	return checkErrcode(resp, resp.ErrMsg)
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := userMutation(cmd, rpc.OpCreateUser, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ User %s created\n", args[0])
		return nil
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove USERNAME",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := userMutation(cmd, rpc.OpDropUser, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ User %s removed\n", args[0])
		return nil
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant USERNAME",
	Short: "Grant privileges or change the password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := userMutation(cmd, rpc.OpAddPrivilege, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Privileges granted to %s\n", args[0])
		return nil
	},
}

var userRevokeCmd = &cobra.Command{
	Use:   "revoke USERNAME",
	Short: "Revoke privileges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := userMutation(cmd, rpc.OpDropPrivilege, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Privileges revoked from %s\n", args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list [USERNAME]",
	Short: "List users",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		req := &rpc.QueryRequest{Op: rpc.QueryUser}
		if len(args) == 1 {
			req.Username = args[0]
		}
		resp, err := sender.Query(context.Background(), req)
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}

		t := table.New(os.Stdout)
		t.SetHeaders("USERNAME", "PASSWORD", "IPS", "ZONE PRIVS", "SERVLET PRIVS", "VERSION")
		for _, u := range resp.Users {
			var zps []string
			for _, p := range u.ZonePrivileges {
				zps = append(zps, fmt.Sprintf("%s.%s:%s", p.AppName, p.ZoneName, p.RW))
			}
			var sps []string
			for _, p := range u.ServletPrivileges {
				sps = append(sps, fmt.Sprintf("%s.%s.%s:%s", p.AppName, p.ZoneName, p.ServletName, p.RW))
			}
			t.AddRow(u.Username, u.PasswordFingerprint+"…",
				strings.Join(u.AllowedIPs, ","),
				strings.Join(zps, ","),
				strings.Join(sps, ","),
				fmt.Sprint(u.Version))
		}
		t.Render()
		return nil
	},
}

func init() {
	userCmd.PersistentFlags().String("password", "", "Password (create or change)")
	userCmd.PersistentFlags().StringSlice("ip", nil, "Allowed source IP (repeatable)")
	userCmd.PersistentFlags().StringSlice("zone-priv", nil, "Zone privilege app.zone[:r|w] (repeatable)")
	userCmd.PersistentFlags().StringSlice("servlet-priv", nil, "Servlet privilege app.zone.servlet[:r|w] (repeatable)")
	userCmd.AddCommand(userCreateCmd, userRemoveCmd, userGrantCmd, userRevokeCmd, userListCmd)
}
