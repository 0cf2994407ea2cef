package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	core "synapse-ng/core"
)

var (
	apiAddr      string
	identityPath string
)

func printResult(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "synapse-ngctl-id.pem"
	}
	return filepath.Join(home, ".synapse-ng", "ctl-id.pem")
}

func main() {
	root := &cobra.Command{Use: "synapse-ngctl", Short: "command-line client for a Synapse-NG node"}
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "node API base URL")
	root.PersistentFlags().StringVar(&identityPath, "identity", defaultIdentityPath(), "path to this CLI's Ed25519 identity (signs every mutating request); created if missing")

	root.AddCommand(nodeCmd(), tasksCmd(), proposalsCmd(), governanceCmd(), toolsCmd(), schemasCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *apiClient {
	id, err := core.LoadOrCreateIdentity(identityPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load CLI identity:", err)
		os.Exit(1)
	}
	return newAPIClient(apiAddr, id)
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node", Short: "node introspection"}
	whoami := &cobra.Command{
		Use: "whoami", Short: "print this node's id",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("GET", "/whoami", nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	state := &cobra.Command{
		Use: "state", Short: "print the replicated state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("GET", "/state", nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	cmd.AddCommand(whoami, state)
	return cmd
}

func tasksCmd() *cobra.Command {
	var channel, title, description string
	var reward int64
	var tags []string

	cmd := &cobra.Command{Use: "tasks", Short: "manage tasks"}

	create := &cobra.Command{
		Use: "create", Short: "create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/tasks?channel="+channel, map[string]any{
				"title": title, "description": description, "reward": reward, "tags": tags,
			})
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	create.Flags().StringVar(&channel, "channel", "global", "channel id")
	create.Flags().StringVar(&title, "title", "", "task title")
	create.Flags().StringVar(&description, "description", "", "task description")
	create.Flags().Int64Var(&reward, "reward", 0, "reward in SP")
	create.Flags().StringSliceVar(&tags, "tags", nil, "task tags")

	claim := taskActionCmd("claim", &channel)
	progress := taskActionCmd("progress", &channel)
	complete := taskActionCmd("complete", &channel)

	var cost, speed float64
	bid := &cobra.Command{
		Use: "bid <task-id>", Short: "submit an auction bid", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/tasks/"+args[0]+"/bid?channel="+channel, map[string]any{
				"cost": cost, "speed_days": speed,
			})
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	bid.Flags().StringVar(&channel, "channel", "global", "channel id")
	bid.Flags().Float64Var(&cost, "cost", 0, "bid cost")
	bid.Flags().Float64Var(&speed, "speed-days", 0, "bid speed in days")

	cmd.AddCommand(create, claim, progress, complete, bid)
	return cmd
}

func taskActionCmd(action string, channel *string) *cobra.Command {
	c := &cobra.Command{
		Use: action + " <task-id>", Short: action + " a task", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/tasks/"+args[0]+"/"+action+"?channel="+*channel, nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	c.Flags().StringVar(channel, "channel", "global", "channel id")
	return c
}

func proposalsCmd() *cobra.Command {
	var channel, title, description, ptype string
	var tags []string

	cmd := &cobra.Command{Use: "proposals", Short: "manage governance proposals"}

	create := &cobra.Command{
		Use: "create", Short: "create a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/proposals?channel="+channel, map[string]any{
				"title": title, "description": description, "proposal_type": ptype, "tags": tags,
			})
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	create.Flags().StringVar(&channel, "channel", "global", "channel id")
	create.Flags().StringVar(&title, "title", "", "proposal title")
	create.Flags().StringVar(&description, "description", "", "proposal description")
	create.Flags().StringVar(&ptype, "type", "generic", "proposal type")
	create.Flags().StringSliceVar(&tags, "tags", nil, "proposal tags")

	var choice string
	vote := &cobra.Command{
		Use: "vote <proposal-id>", Short: "cast a vote", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/proposals/"+args[0]+"/vote?channel="+channel, map[string]any{"choice": choice})
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	vote.Flags().StringVar(&channel, "channel", "global", "channel id")
	vote.Flags().StringVar(&choice, "choice", "yes", "yes or no")

	closeCmd := &cobra.Command{
		Use: "close <proposal-id>", Short: "close a proposal past its voting period", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/proposals/"+args[0]+"/close?channel="+channel, nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	closeCmd.Flags().StringVar(&channel, "channel", "global", "channel id")

	cmd.AddCommand(create, vote, closeCmd)
	return cmd
}

func governanceCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{Use: "governance", Short: "validator ratification"}
	ratify := &cobra.Command{
		Use: "ratify <proposal-id>", Short: "ratify a pending proposal as a validator", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/governance/ratify/"+args[0]+"?channel="+channel, nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	ratify.Flags().StringVar(&channel, "channel", "global", "channel id")
	cmd.AddCommand(ratify)
	return cmd
}

func toolsCmd() *cobra.Command {
	var channel, taskID string
	cmd := &cobra.Command{Use: "tools", Short: "invoke common tools"}
	exec := &cobra.Command{
		Use: "execute <tool-id>", Short: "execute a common tool for a task", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("POST", "/tools/"+args[0]+"/execute?channel="+channel+"&task_id="+taskID, nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	exec.Flags().StringVar(&channel, "channel", "global", "channel id")
	exec.Flags().StringVar(&taskID, "task", "", "task id authorizing the call")
	cmd.AddCommand(exec)
	return cmd
}

func schemasCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schemas", Short: "inspect data schemas"}
	show := &cobra.Command{
		Use: "show <name>", Short: "show a schema definition", Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().do("GET", "/schemas/"+args[0], nil)
			if err != nil {
				return err
			}
			printResult(cmd, out)
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}
