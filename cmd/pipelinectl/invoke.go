package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	functionFlag string
	asyncFlag    bool
)

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke the deployed function with a synthetic storage event",
	Long: `Invoke sends {"bucket","name","projectId"} to the process function, as if the
object had just been uploaded. By default it waits for the result; --async
queues the event and returns.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fn := orDefault(functionFlag, appConfig.FunctionName)
		if fn == "" {
			return errors.New("--function is required (or PIPELINE_FUNCTION_NAME)")
		}
		ev, err := objectEvent()
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		input := &lambdasvc.InvokeInput{
			FunctionName: aws.String(fn),
			Payload:      payload,
		}
		if asyncFlag {
			input.InvocationType = lambdatypes.InvocationTypeEvent
		}
		log.Debug().Str("function", fn).Str("object", ev.ObjectURI()).Bool("async", asyncFlag).Msg("Invoking process function")
		out, err := lambdasvc.NewFromConfig(awsClients.Config).Invoke(cmd.Context(), input)
		if err != nil {
			return fmt.Errorf("Lambda Invoke %s: %w", fn, err)
		}
		if out.FunctionError != nil {
			return fmt.Errorf("function %s failed (%s): %s", fn, aws.ToString(out.FunctionError), string(out.Payload))
		}
		if asyncFlag {
			done(cmd, "Queued %s for %s", ev.ObjectURI(), fn)
			return nil
		}
		done(cmd, "Function %s processed %s", fn, ev.ObjectURI())
		return nil
	},
}

func init() {
	invokeCmd.Flags().StringVar(&functionFlag, "function", "", "Function name or ARN (default: PIPELINE_FUNCTION_NAME)")
	invokeCmd.Flags().BoolVar(&asyncFlag, "async", false, "Queue the event instead of waiting for the result")
}
