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

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage versioned config blobs",
}

var configCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Publish a new config version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		version, _ := cmd.Flags().GetString("config-version")
		ctype, _ := cmd.Flags().GetString("type")
		file, _ := cmd.Flags().GetString("file")
		data, _ := cmd.Flags().GetString("data")

		content := []byte(data)
		if file != "" {
			content, err = os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
		if len(content) == 0 {
			return fmt.Errorf("empty config content, pass --file or --data")
		}

		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op: rpc.OpCreateConfig,
			Config: &types.Config{
				Name:    args[0],
				Version: version,
				Content: content,
				Type:    types.ConfigType(ctype),
			},
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Config %s@%s published\n", args[0], version)
		return nil
	},
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove one config version, or all with --all",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		version, _ := cmd.Flags().GetString("config-version")
		all, _ := cmd.Flags().GetBool("all")
		resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{
			Op:                rpc.OpRemoveConfig,
			Config:            &types.Config{Name: args[0], Version: version},
			RemoveAllVersions: all,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		fmt.Printf("✓ Config %s removed\n", args[0])
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Fetch a config (latest version unless --config-version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		version, _ := cmd.Flags().GetString("config-version")
		out, _ := cmd.Flags().GetString("output")
		resp, err := sender.Query(context.Background(), &rpc.QueryRequest{
			Op:            rpc.QueryConfig,
			ConfigName:    args[0],
			ConfigVersion: version,
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		cfg := resp.Configs[0]

		if out != "" {
			if err := os.WriteFile(out, cfg.Content, 0644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			fmt.Printf("✓ Config %s@%s written to %s\n", cfg.Name, cfg.Version, out)
			return nil
		}
		os.Stdout.Write(cfg.Content)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [NAME]",
	Short: "List config names, or the versions of one name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		if len(args) == 0 {
			resp, err := sender.Query(context.Background(), &rpc.QueryRequest{Op: rpc.QueryConfigList})
			if err != nil {
				return err
			}
			if err := checkErrcode(resp, resp.ErrMsg); err != nil {
				return err
			}
			t := table.New(os.Stdout)
			t.SetHeaders("NAME")
			for _, name := range resp.ConfigNames {
				t.AddRow(name)
			}
			t.Render()
			return nil
		}

		resp, err := sender.Query(context.Background(), &rpc.QueryRequest{
			Op:         rpc.QueryConfigVersions,
			ConfigName: args[0],
		})
		if err != nil {
			return err
		}
		if err := checkErrcode(resp, resp.ErrMsg); err != nil {
			return err
		}
		t := table.New(os.Stdout)
		t.SetHeaders("NAME", "VERSION")
		for _, v := range resp.Versions {
			t.AddRow(args[0], v)
		}
		t.Render()
		return nil
	},
}

var configWatchCmd = &cobra.Command{
	Use:   "watch [NAME]",
	Short: "Stream config change events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := newSender(cmd)
		if err != nil {
			return err
		}
		defer sender.Close()

		req := &rpc.WatchRequest{
			Kinds: []string{rpc.EventConfigCreated, rpc.EventConfigRemoved},
		}
		if len(args) == 1 {
			req.ConfigName = args[0]
		}
		stream, err := sender.Watch(context.Background(), req)
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
	configCreateCmd.Flags().String("config-version", "", "Semver version of the blob")
	configCreateCmd.Flags().String("type", "text", "Content type (text, json, yaml, gflags, toml, ini)")
	configCreateCmd.Flags().String("file", "", "Read content from file")
	configCreateCmd.Flags().String("data", "", "Inline content")
	configRemoveCmd.Flags().String("config-version", "", "Version to remove")
	configRemoveCmd.Flags().Bool("all", false, "Remove every version")
	configGetCmd.Flags().String("config-version", "", "Version to fetch (latest when empty)")
	configGetCmd.Flags().String("output", "", "Write content to file instead of stdout")
	configCmd.AddCommand(configCreateCmd, configRemoveCmd, configGetCmd, configListCmd, configWatchCmd)
}
