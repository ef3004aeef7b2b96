// Package reminder compares the image pipeline's most recent build against
// the parent-image parameter it builds from, and publishes an SNS
// notification when the pipeline is running behind a newer parent image.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/imagebuilder"
	ibtypes "github.com/aws/aws-sdk-go-v2/service/imagebuilder/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
)

// listImagesPageSize bounds the pipeline image listing; the newest build is
// always within the most recent page.
const listImagesPageSize = 15

// Notice is the freshness verdict published to the SNS topic.
type Notice struct {
	Message               string `json:"Message"`
	ParameterName         string `json:"Parent image SSM Parameter path"`
	ParameterAMI          string `json:"New parent image AMI ID"`
	ParameterLastModified string `json:"Parent image last modified date"`
	PipelineParentAMI     string `json:"Current parent image AMI ID"`
	LastImageBuildDate    string `json:"Image Pipeline last image build date"`
	PipelineARN           string `json:"Image Pipeline ARN"`

	// Stale is true when the parameter changed after the last build, i.e.
	// the pipeline should be re-run against the newer parent image.
	Stale bool `json:"-"`
}

// Checker performs the parent-image freshness check.
type Checker struct {
	ib          awsapi.ImageBuilderClient
	ssm         awsapi.SSMClient
	sns         awsapi.SNSClient
	pipelineARN string
	parameter   string
	topicARN    string
}

// NewChecker wires a Checker to its clients and configuration.
func NewChecker(
	ib awsapi.ImageBuilderClient,
	ssmClient awsapi.SSMClient,
	snsClient awsapi.SNSClient,
	pipelineARN, parameter, topicARN string,
) *Checker {
	return &Checker{
		ib:          ib,
		ssm:         ssmClient,
		sns:         snsClient,
		pipelineARN: pipelineARN,
		parameter:   parameter,
		topicARN:    topicARN,
	}
}

// Check builds the freshness notice and publishes it to the topic. The
// notice is published both when the pipeline is stale and when it is up to
// date, so operators get a positive heartbeat either way.
func (c *Checker) Check(ctx context.Context) (*Notice, error) {
	buildDate, parentAMI, err := c.latestBuild(ctx)
	if err != nil {
		return nil, err
	}

	paramOut, err := c.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(c.parameter),
	})
	if err != nil {
		return nil, fmt.Errorf("read parent image parameter %q: %w", c.parameter, err)
	}
	if paramOut.Parameter == nil || paramOut.Parameter.LastModifiedDate == nil {
		return nil, fmt.Errorf("parent image parameter %q has no modification date", c.parameter)
	}
	paramModified := *paramOut.Parameter.LastModifiedDate

	notice := &Notice{
		ParameterName:         c.parameter,
		ParameterAMI:          aws.ToString(paramOut.Parameter.Value),
		ParameterLastModified: paramModified.UTC().Format(time.RFC3339),
		PipelineParentAMI:     parentAMI,
		LastImageBuildDate:    buildDate.UTC().Format(time.RFC3339),
		PipelineARN:           c.pipelineARN,
		Stale:                 paramModified.After(buildDate),
	}
	if notice.Stale {
		notice.Message = "A new version of the parent image for your pipeline is available"
	} else {
		notice.Message = "Parent image is up to date"
	}

	body, err := json.MarshalIndent(notice, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal reminder notice: %w", err)
	}
	if _, err := c.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(c.topicARN),
		Message:  aws.String(string(body)),
	}); err != nil {
		return nil, fmt.Errorf("publish reminder to %q: %w", c.topicARN, err)
	}
	return notice, nil
}

// latestBuild returns the creation date of the newest AVAILABLE pipeline
// image and the parent image its recipe builds from.
func (c *Checker) latestBuild(ctx context.Context) (time.Time, string, error) {
	imagesOut, err := c.ib.ListImagePipelineImages(ctx, &imagebuilder.ListImagePipelineImagesInput{
		ImagePipelineArn: aws.String(c.pipelineARN),
		MaxResults:       aws.Int32(listImagesPageSize),
	})
	if err != nil {
		return time.Time{}, "", fmt.Errorf("list pipeline images for %q: %w", c.pipelineARN, err)
	}

	var latest *ibtypes.ImageSummary
	for i := range imagesOut.ImageSummaryList {
		img := &imagesOut.ImageSummaryList[i]
		if img.State == nil || img.State.Status != ibtypes.ImageStatusAvailable {
			continue
		}
		if latest == nil || compareVersions(aws.ToString(img.Version), aws.ToString(latest.Version)) > 0 {
			latest = img
		}
	}
	if latest == nil {
		return time.Time{}, "", fmt.Errorf("pipeline %q has no available images", c.pipelineARN)
	}

	buildDate, err := parseImageDate(aws.ToString(latest.DateCreated))
	if err != nil {
		return time.Time{}, "", err
	}

	pipelineOut, err := c.ib.GetImagePipeline(ctx, &imagebuilder.GetImagePipelineInput{
		ImagePipelineArn: aws.String(c.pipelineARN),
	})
	if err != nil {
		return time.Time{}, "", fmt.Errorf("get pipeline %q: %w", c.pipelineARN, err)
	}
	if pipelineOut.ImagePipeline == nil || pipelineOut.ImagePipeline.ImageRecipeArn == nil {
		return time.Time{}, "", fmt.Errorf("pipeline %q has no image recipe", c.pipelineARN)
	}

	recipeOut, err := c.ib.GetImageRecipe(ctx, &imagebuilder.GetImageRecipeInput{
		ImageRecipeArn: pipelineOut.ImagePipeline.ImageRecipeArn,
	})
	if err != nil {
		return time.Time{}, "", fmt.Errorf("get image recipe: %w", err)
	}
	var parentAMI string
	if recipeOut.ImageRecipe != nil {
		parentAMI = aws.ToString(recipeOut.ImageRecipe.ParentImage)
	}
	return buildDate, parentAMI, nil
}

// imageDateLayouts covers the timestamp shapes Image Builder emits.
var imageDateLayouts = []string{
	"2006-01-02T15:04:05.999Z07:00",
	"2006-01-02T15:04:05.999-0700",
	time.RFC3339,
}

func parseImageDate(s string) (time.Time, error) {
	for _, layout := range imageDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse image creation date %q", s)
}

// compareVersions orders dotted numeric build versions ("1.0.12"). Returns
// <0, 0, >0 in the manner of strings.Compare. Non-numeric segments fall back
// to lexical comparison.
func compareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

func splitVersion(v string) []int {
	var parts []int
	n, valid := 0, false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
			valid = true
		case r == '.' || r == '/':
			if valid {
				parts = append(parts, n)
			}
			n, valid = 0, false
		}
	}
	if valid {
		parts = append(parts, n)
	}
	return parts
}
