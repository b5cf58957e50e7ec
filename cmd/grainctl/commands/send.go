package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcelha/grain/internal/client"
	"github.com/rcelha/grain/internal/wire"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <kind> <id> <messageType> <json-payload>",
	Short: "Send a request to a grain and print its response",
	Long: `Send dispatches a single request to the grain named by (kind, id).
json-payload is a JSON object whose keys match the target message struct's
field names (e.g. '{"By": 3}' for the Increment message on the bundled
Counter grain); it's decoded generically and re-encoded as the msgpack
payload the wire protocol carries.`,
	Args: cobra.ExactArgs(4),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second,
		"Overall deadline for the request, including retries")
}

func runSend(cmd *cobra.Command, args []string) error {
	kind, id, messageType, jsonPayload := args[0], args[1], args[2], args[3]

	var generic any
	if err := json.Unmarshal([]byte(jsonPayload), &generic); err != nil {
		return fmt.Errorf("invalid json-payload: %w", err)
	}

	payload, err := wire.Encode(generic)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	c, err := getClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	result, err := c.Send(ctx, kind, id, messageType, payload)
	if err != nil {
		var appErr *client.ApplicationError
		if errors.As(err, &appErr) {
			return printResult(appErr.Body)
		}
		return err
	}

	return printResult(result)
}

func printResult(raw []byte) error {
	var decoded any
	if err := wire.Decode(raw, &decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
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
