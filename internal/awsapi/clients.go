package awsapi

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/imagebuilder"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ---------------------------------------------------------------------------
// Per-service client interfaces
//
// Each interface covers only the operations this project uses. Narrow
// interfaces instead of full SDK clients keep unit tests trivial: a struct
// returning canned data satisfies them. The paginated operations match the
// SDK's *APIClient interfaces so the generated paginators accept them.
// ---------------------------------------------------------------------------

// SSMClient is the subset of Systems Manager operations used by the AMI
// watcher and the parent-image reminder.
type SSMClient interface {
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)
}

// EKSClient covers the EKS operations used for target resolution and
// node-group updates.
type EKSClient interface {
	ListClusters(
		ctx context.Context,
		params *eks.ListClustersInput,
		optFns ...func(*eks.Options),
	) (*eks.ListClustersOutput, error)

	DescribeCluster(
		ctx context.Context,
		params *eks.DescribeClusterInput,
		optFns ...func(*eks.Options),
	) (*eks.DescribeClusterOutput, error)

	ListNodegroups(
		ctx context.Context,
		params *eks.ListNodegroupsInput,
		optFns ...func(*eks.Options),
	) (*eks.ListNodegroupsOutput, error)

	DescribeNodegroup(
		ctx context.Context,
		params *eks.DescribeNodegroupInput,
		optFns ...func(*eks.Options),
	) (*eks.DescribeNodegroupOutput, error)

	UpdateNodegroupVersion(
		ctx context.Context,
		params *eks.UpdateNodegroupVersionInput,
		optFns ...func(*eks.Options),
	) (*eks.UpdateNodegroupVersionOutput, error)

	DescribeUpdate(
		ctx context.Context,
		params *eks.DescribeUpdateInput,
		optFns ...func(*eks.Options),
	) (*eks.DescribeUpdateOutput, error)
}

// EC2LaunchTemplateClient is the subset of EC2 operations used to version
// node-group launch templates.
type EC2LaunchTemplateClient interface {
	CreateLaunchTemplateVersion(
		ctx context.Context,
		params *ec2.CreateLaunchTemplateVersionInput,
		optFns ...func(*ec2.Options),
	) (*ec2.CreateLaunchTemplateVersionOutput, error)
}

// DynamoDBClient covers the DynamoDB operations used by the state recorder
// and the doctor probe.
type DynamoDBClient interface {
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	Scan(
		ctx context.Context,
		params *dynamodb.ScanInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.ScanOutput, error)

	DescribeTable(
		ctx context.Context,
		params *dynamodb.DescribeTableInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DescribeTableOutput, error)
}

// ImageBuilderClient covers the Image Builder operations used by the
// parent-image reminder.
type ImageBuilderClient interface {
	ListImagePipelineImages(
		ctx context.Context,
		params *imagebuilder.ListImagePipelineImagesInput,
		optFns ...func(*imagebuilder.Options),
	) (*imagebuilder.ListImagePipelineImagesOutput, error)

	GetImagePipeline(
		ctx context.Context,
		params *imagebuilder.GetImagePipelineInput,
		optFns ...func(*imagebuilder.Options),
	) (*imagebuilder.GetImagePipelineOutput, error)

	GetImageRecipe(
		ctx context.Context,
		params *imagebuilder.GetImageRecipeInput,
		optFns ...func(*imagebuilder.Options),
	) (*imagebuilder.GetImageRecipeOutput, error)
}

// SNSClient is the subset of SNS operations used to publish reminders.
type SNSClient interface {
	Publish(
		ctx context.Context,
		params *sns.PublishInput,
		optFns ...func(*sns.Options),
	) (*sns.PublishOutput, error)
}

// STSClient is the subset of STS operations used by the doctor probe.
type STSClient interface {
	GetCallerIdentity(
		ctx context.Context,
		params *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options),
	) (*sts.GetCallerIdentityOutput, error)
}

// ---------------------------------------------------------------------------
// ClientSet and ClientFactory
// ---------------------------------------------------------------------------

// ClientSet holds initialised AWS service clients for one region. All fields
// are interfaces so tests can replace them without importing the SDK.
type ClientSet struct {
	SSM          SSMClient
	EKS          EKSClient
	EC2          EC2LaunchTemplateClient
	DynamoDB     DynamoDBClient
	ImageBuilder ImageBuilderClient
	SNS          SNSClient
	STS          STSClient
}

// ClientFactory creates a ClientSet from an aws.Config.
// Swap this in tests to inject mock clients.
type ClientFactory func(cfg aws.Config) *ClientSet

// NewClientSet is the production ClientFactory.
func NewClientSet(cfg aws.Config) *ClientSet {
	return &ClientSet{
		SSM:          ssm.NewFromConfig(cfg),
		EKS:          eks.NewFromConfig(cfg),
		EC2:          ec2.NewFromConfig(cfg),
		DynamoDB:     dynamodb.NewFromConfig(cfg),
		ImageBuilder: imagebuilder.NewFromConfig(cfg),
		SNS:          sns.NewFromConfig(cfg),
		STS:          sts.NewFromConfig(cfg),
	}
}
