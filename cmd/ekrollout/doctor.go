package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/aws-samples/eks-node-rollout/internal/rollout"
)

// DoctorResult is the structured output of ekrollout doctor. It can be
// serialised to JSON via --report=json or rendered as a human-readable list
// (default).
type DoctorResult struct {
	AWS struct {
		Credentials bool   `json:"credentials_ok"`
		AccountID   string `json:"account_id,omitempty"`
		Region      string `json:"region,omitempty"`
		Error       string `json:"error,omitempty"`
	} `json:"aws"`

	AMIParameter struct {
		Name   string `json:"name"`
		OK     bool   `json:"ok"`
		Value  string `json:"value,omitempty"`
		Flavor string `json:"flavor,omitempty"`
		Error  string `json:"error,omitempty"`
	} `json:"ami_parameter"`

	StateTable struct {
		Name   string `json:"name"`
		OK     bool   `json:"ok"`
		Status string `json:"status,omitempty"`
		Error  string `json:"error,omitempty"`
	} `json:"state_table"`
}

func newDoctorCmd(configPath *string) *cobra.Command {
	var reportFmt string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check credentials, the AMI parameter, and the state table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			result := runDoctor(cmd.Context(), rt)
			if reportFmt == "json" {
				return printJSON(result)
			}
			renderDoctor(os.Stdout, result)
			if !result.AWS.Credentials || !result.AMIParameter.OK || !result.StateTable.OK {
				return fmt.Errorf("doctor found problems")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportFmt, "report", "table", "Output format: json or table")
	return cmd
}

func runDoctor(ctx context.Context, rt *runtime) *DoctorResult {
	result := &DoctorResult{}
	result.AMIParameter.Name = rt.cfg.AMIParameter
	result.StateTable.Name = rt.cfg.StateTable
	result.AWS.Region = rt.cfg.Region

	identity, err := rt.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		result.AWS.Error = err.Error()
	} else {
		result.AWS.Credentials = true
		result.AWS.AccountID = aws.ToString(identity.Account)
	}

	param, err := rt.clients.SSM.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(rt.cfg.AMIParameter),
	})
	switch {
	case err != nil:
		result.AMIParameter.Error = err.Error()
	case param.Parameter == nil || aws.ToString(param.Parameter.Value) == "":
		result.AMIParameter.Error = "parameter holds no value"
	default:
		result.AMIParameter.OK = true
		result.AMIParameter.Value = aws.ToString(param.Parameter.Value)
		if flavor, ferr := rollout.FlavorFromParameter(rt.cfg.AMIParameter); ferr == nil {
			result.AMIParameter.Flavor = string(flavor)
		} else {
			result.AMIParameter.OK = false
			result.AMIParameter.Error = ferr.Error()
		}
	}

	table, err := rt.clients.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(rt.cfg.StateTable),
	})
	switch {
	case err != nil:
		result.StateTable.Error = err.Error()
	case table.Table == nil:
		result.StateTable.Error = "empty describe-table response"
	default:
		result.StateTable.OK = true
		result.StateTable.Status = string(table.Table.TableStatus)
	}

	return result
}

func renderDoctor(w io.Writer, result *DoctorResult) {
	status := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAIL"
	}

	fmt.Fprintf(w, "AWS credentials:  %s", status(result.AWS.Credentials))
	if result.AWS.AccountID != "" {
		fmt.Fprintf(w, "  (account %s)", result.AWS.AccountID)
	}
	if result.AWS.Error != "" {
		fmt.Fprintf(w, "  %s", result.AWS.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "AMI parameter:    %s  %s", status(result.AMIParameter.OK), result.AMIParameter.Name)
	if result.AMIParameter.Value != "" {
		fmt.Fprintf(w, " = %s (%s)", result.AMIParameter.Value, result.AMIParameter.Flavor)
	}
	if result.AMIParameter.Error != "" {
		fmt.Fprintf(w, "  %s", result.AMIParameter.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "State table:      %s  %s", status(result.StateTable.OK), result.StateTable.Name)
	if result.StateTable.Status != "" {
		fmt.Fprintf(w, " (%s)", result.StateTable.Status)
	}
	if result.StateTable.Error != "" {
		fmt.Fprintf(w, "  %s", result.StateTable.Error)
	}
	fmt.Fprintln(w)
}
