package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcelha/grain/internal/wire"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <kind> <id>",
	Short: "Stream messages published to a grain until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubscribe,
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	kind, id := args[0], args[1]

	c, err := getClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	sub, err := c.Subscribe(ctx, kind, id)
	if err != nil {
		return err
	}
	defer sub.Close()

	for msg := range sub.Messages() {
		if msg.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", msg.Err.Error())
			continue
		}
		if err := printSubscriptionMessage(msg.Ok); err != nil {
			fmt.Fprintf(os.Stderr, "decode error: %v\n", err)
		}
	}

	return nil
}

func printSubscriptionMessage(raw []byte) error {
	var decoded any
	if err := wire.Decode(raw, &decoded); err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		encoded, err := json.Marshal(decoded)
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	default:
		fmt.Printf("%v\n", decoded)
	}
	return nil
}
