package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/adjutant/internal/appconfig"
	"pkt.systems/adjutant/internal/taskstore"
	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

func newTasksCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and edit task records",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newTasksListCmd(&cfgPath))
	cmd.AddCommand(newTasksAddCmd(&cfgPath))
	cmd.AddCommand(newTasksNoteCmd(&cfgPath))
	cmd.AddCommand(newTasksDoneCmd(&cfgPath))
	cmd.AddCommand(newTasksLogCmd(&cfgPath))

	return cmd
}

func openTaskStore(cmd *cobra.Command, cfgPath string) (*taskstore.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return taskstore.NewStoreWithLogger(filepath.Join(cfg.StateDir, "tasks"), pslog.Ctx(cmd.Context()))
}

func newTasksListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <username>",
		Short: "List a user's tasks, most recently worked first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			records, err := store.List(schema.UserID(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, record := range records {
				_, _ = fmt.Fprintf(out, "%s [%s/%s] %s\n", record.ID, record.Status, record.Priority, record.Title)
			}
			return nil
		},
	}
}

func newTasksAddCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <username> <title...>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			record, err := store.Upsert(schema.UserID(args[0]), schema.TaskUpdate{Title: &title})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created task %s: %s\n", record.ID, record.Title)
			return nil
		},
	}
}

func newTasksNoteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "note <username> <task-id> <note...>",
		Short: "Append a note to a task's log",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			note := strings.Join(args[2:], " ")
			if err := store.AppendNote(schema.UserID(args[0]), schema.TaskID(args[1]), note); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "noted task %s\n", args[1])
			return nil
		},
	}
}

func newTasksDoneCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "done <username> <task-id> [summary...]",
		Short: "Complete a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			summary := strings.Join(args[2:], " ")
			record, err := store.Complete(schema.UserID(args[0]), schema.TaskID(args[1]), summary)
			if err != nil {
				if errors.Is(err, schema.ErrTaskNotFound) {
					return fmt.Errorf("no such task: %s", args[1])
				}
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "completed task %s: %s\n", record.ID, record.Title)
			return nil
		},
	}
}

func newTasksLogCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "log <username> <task-id>",
		Short: "Print the path of a task's markdown log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTaskStore(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if _, err := store.Get(schema.UserID(args[0]), schema.TaskID(args[1])); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), store.LogPath(schema.UserID(args[0]), schema.TaskID(args[1])))
			return nil
		},
	}
}
