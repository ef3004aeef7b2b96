package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
	"github.com/aws-samples/eks-node-rollout/internal/config"
)

type stubSTS struct {
	account string
	err     error
}

func (s *stubSTS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(s.account)}, nil
}

type stubSSM struct {
	value string
	err   error
}

func (s *stubSSM) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(s.value)}}, nil
}

type stubDynamo struct {
	status ddbtypes.TableStatus
	err    error
}

func (s *stubDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dynamodb.DescribeTableOutput{Table: &ddbtypes.TableDescription{TableStatus: s.status}}, nil
}

func (s *stubDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDynamo) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return nil, errors.New("not implemented")
}

func doctorRuntime(stsC *stubSTS, ssmC *stubSSM, ddbC *stubDynamo) *runtime {
	return &runtime{
		cfg: &config.Config{
			Region:       "us-east-1",
			AMIParameter: "/images/hardened/amazon-linux-2023/latest",
			StateTable:   "rollout-state",
		},
		clients: &awsapi.ClientSet{
			STS:      stsC,
			SSM:      ssmC,
			DynamoDB: ddbC,
		},
		log: zerolog.Nop(),
	}
}

func TestDoctorAllOK(t *testing.T) {
	rt := doctorRuntime(
		&stubSTS{account: "111122223333"},
		&stubSSM{value: "ami-0123456789abcdef0"},
		&stubDynamo{status: ddbtypes.TableStatusActive},
	)

	result := runDoctor(context.Background(), rt)
	if !result.AWS.Credentials || result.AWS.AccountID != "111122223333" {
		t.Errorf("AWS probe = %+v", result.AWS)
	}
	if !result.AMIParameter.OK || result.AMIParameter.Value != "ami-0123456789abcdef0" {
		t.Errorf("AMI parameter probe = %+v", result.AMIParameter)
	}
	if result.AMIParameter.Flavor != "amazon-linux-2023" {
		t.Errorf("Flavor = %q", result.AMIParameter.Flavor)
	}
	if !result.StateTable.OK || result.StateTable.Status != "ACTIVE" {
		t.Errorf("state table probe = %+v", result.StateTable)
	}

	var buf bytes.Buffer
	renderDoctor(&buf, result)
	out := buf.String()
	if strings.Contains(out, "FAIL") {
		t.Errorf("healthy doctor output contains FAIL:\n%s", out)
	}
	for _, want := range []string{"111122223333", "rollout-state", "ami-0123456789abcdef0"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorBadCredentials(t *testing.T) {
	rt := doctorRuntime(
		&stubSTS{err: errors.New("ExpiredToken")},
		&stubSSM{value: "ami-0123456789abcdef0"},
		&stubDynamo{status: ddbtypes.TableStatusActive},
	)

	result := runDoctor(context.Background(), rt)
	if result.AWS.Credentials {
		t.Error("Credentials = true despite STS failure")
	}
	if !strings.Contains(result.AWS.Error, "ExpiredToken") {
		t.Errorf("AWS.Error = %q", result.AWS.Error)
	}
	// The other probes still run.
	if !result.AMIParameter.OK || !result.StateTable.OK {
		t.Error("remaining probes skipped after credential failure")
	}

	var buf bytes.Buffer
	renderDoctor(&buf, result)
	if !strings.Contains(buf.String(), "FAIL") {
		t.Errorf("output does not flag the failure:\n%s", buf.String())
	}
}

func TestDoctorEmptyParameter(t *testing.T) {
	rt := doctorRuntime(
		&stubSTS{account: "111122223333"},
		&stubSSM{value: ""},
		&stubDynamo{status: ddbtypes.TableStatusActive},
	)

	result := runDoctor(context.Background(), rt)
	if result.AMIParameter.OK {
		t.Error("AMIParameter.OK = true for an empty parameter")
	}
}

func TestDoctorUnderivableFlavor(t *testing.T) {
	rt := doctorRuntime(
		&stubSTS{account: "111122223333"},
		&stubSSM{value: "ami-0123456789abcdef0"},
		&stubDynamo{status: ddbtypes.TableStatusActive},
	)
	rt.cfg.AMIParameter = "/images/hardened/windows/latest"

	result := runDoctor(context.Background(), rt)
	if result.AMIParameter.OK {
		t.Error("AMIParameter.OK = true for a parameter with no derivable flavour")
	}
}

func TestDoctorMissingTable(t *testing.T) {
	rt := doctorRuntime(
		&stubSTS{account: "111122223333"},
		&stubSSM{value: "ami-0123456789abcdef0"},
		&stubDynamo{err: errors.New("ResourceNotFoundException")},
	)

	result := runDoctor(context.Background(), rt)
	if result.StateTable.OK {
		t.Error("StateTable.OK = true despite describe failure")
	}
	if !strings.Contains(result.StateTable.Error, "ResourceNotFoundException") {
		t.Errorf("StateTable.Error = %q", result.StateTable.Error)
	}
}
