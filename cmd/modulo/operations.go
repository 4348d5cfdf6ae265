package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/enamentis/modulo/internal/health"
	"github.com/enamentis/modulo/internal/transport"
)

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "Send commands to running units or enumerate them",
}

var operationsDispatchCmd = &cobra.Command{
	Use:   "dispatch <id>",
	Short: "Send a command to a unit by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runOperationsDispatch,
}

var operationsKillCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Send a kill dispatch to a unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runOperationsKill,
}

var operationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Enumerate units in the local unit registry and whether each is reachable (broker clients are not listed)",
	Args:  cobra.NoArgs,
	RunE:  runOperationsList,
}

func init() {
	operationsDispatchCmd.Flags().String("message", "", "Command message to send")
	operationsCmd.AddCommand(operationsDispatchCmd)
	operationsCmd.AddCommand(operationsKillCmd)
	operationsCmd.AddCommand(operationsListCmd)
}

func runOperationsDispatch(cmd *cobra.Command, args []string) error {
	id := args[0]
	message, _ := cmd.Flags().GetString("message")
	if message == "" {
		return withExitCode(exitUserError, fmt.Errorf("--message is required"))
	}
	dataRoot, _ := cmd.Flags().GetString("data-root")

	return sendOperationCommand(dataRoot, id, operationCommand{Command: "dispatch", Message: message})
}

func runOperationsKill(cmd *cobra.Command, args []string) error {
	id := args[0]
	dataRoot, _ := cmd.Flags().GetString("data-root")

	return sendOperationCommand(dataRoot, id, operationCommand{Command: "kill"})
}

func sendOperationCommand(dataRoot, id string, op operationCommand) error {
	record, found, err := lookupUnit(dataRoot, id)
	if err != nil {
		return withExitCode(exitUserError, fmt.Errorf("reading unit registry: %w", err))
	}
	if !found {
		return withExitCode(exitUserError, fmt.Errorf("no unit registered with id %q", id))
	}

	payload, err := encodeCommand(op)
	if err != nil {
		return withExitCode(exitUserError, fmt.Errorf("encoding operation command: %w", err))
	}

	client := transport.NewClientWorker(record.addr(), "modulo-cli", transport.WithoutAutoReconnect())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return withExitCode(exitConnectivity, fmt.Errorf("connecting to unit %q at %s: %w", id, record.addr(), err))
	}
	defer client.Close()

	if err := client.Emit(ctx, id, payload); err != nil {
		var protoErr *transport.ProtocolError
		if errors.As(err, &protoErr) {
			return withExitCode(exitProtocolFailure, err)
		}
		return withExitCode(exitConnectivity, fmt.Errorf("dispatching to unit %q: %w", id, err))
	}

	fmt.Printf("Sent %q to unit %q (%s)\n", op.Command, id, record.addr())

	if op.Command == "kill" {
		if err := removeUnit(dataRoot, id); err != nil {
			return withExitCode(exitUserError, fmt.Errorf("updating unit registry: %w", err))
		}
	}
	return nil
}

func runOperationsList(cmd *cobra.Command, _ []string) error {
	dataRoot, _ := cmd.Flags().GetString("data-root")
	units, err := loadRegistry(dataRoot)
	if err != nil {
		return withExitCode(exitUserError, fmt.Errorf("reading unit registry: %w", err))
	}

	if len(units) == 0 {
		fmt.Println("No units registered.")
		return nil
	}

	ids := make([]string, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, id := range ids {
		u := units[id]
		status := health.NewTCPChecker(u.addr()).Check(ctx)
		reachability := "unreachable"
		if status.Reachable {
			reachability = "reachable"
		}
		fmt.Printf("%-20s %-10s %-22s pid=%d started=%s %s\n",
			u.ID, u.UnitType, u.addr(), u.PID, u.StartedAt.Format(time.RFC3339), reachability)
	}
	return nil
}
