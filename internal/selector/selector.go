// Package selector resolves the set of node groups a rollout run operates
// on: clusters matched by tag, expanded to their managed node groups that use
// a caller-supplied launch template with a custom AMI.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/rs/zerolog"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// Resolution is the outcome of one target resolution.
type Resolution struct {
	// Targets is sorted by cluster name, then node-group name, so rollout
	// ordering is reproducible given identical cluster state.
	Targets []models.TargetNodeGroup

	// Skipped lists node groups under matched clusters that cannot be
	// updated (EKS-managed launch template, non-ACTIVE, or running an EKS
	// release version rather than a custom AMI). Skips are not errors.
	Skipped []models.TargetOutcome

	// ClusterErrors lists clusters excluded because their lookup failed.
	ClusterErrors []models.ClusterError

	// ClustersSeen and ClustersMatched count all visible clusters and the
	// tag-matched subset, before per-cluster failures are removed.
	// ClustersFailed counts clusters excluded entirely by a failed lookup;
	// the engine escalates to a run-level failure when every visible
	// cluster failed.
	ClustersSeen    int
	ClustersMatched int
	ClustersFailed  int
}

// Selector resolves rollout targets from live cluster state.
type Selector interface {
	// ResolveTargets enumerates clusters visible to the caller's
	// credentials and filters them by tag. A single cluster's lookup
	// failure excludes that cluster without aborting resolution; the
	// returned error is non-nil only when the cluster listing itself
	// fails.
	ResolveTargets(ctx context.Context, filter models.ClusterTagFilter) (*Resolution, error)
}

// EKSSelector implements Selector on the EKS control-plane API.
type EKSSelector struct {
	eks awsapi.EKSClient
	log zerolog.Logger
}

// NewEKSSelector returns a Selector backed by the given EKS client.
func NewEKSSelector(client awsapi.EKSClient, log zerolog.Logger) *EKSSelector {
	return &EKSSelector{eks: client, log: log}
}

// ResolveTargets implements Selector.
func (s *EKSSelector) ResolveTargets(ctx context.Context, filter models.ClusterTagFilter) (*Resolution, error) {
	names, err := s.listClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list EKS clusters: %w", err)
	}

	res := &Resolution{ClustersSeen: len(names)}
	for _, name := range names {
		cluster, err := s.describeCluster(ctx, name)
		if err != nil {
			s.log.Warn().Str("cluster", name).Err(err).Msg("cluster lookup failed, excluding from run")
			res.ClustersFailed++
			res.ClusterErrors = append(res.ClusterErrors, models.ClusterError{
				ClusterName: name,
				Message:     err.Error(),
			})
			continue
		}
		if !filter.Matches(cluster.Tags) {
			continue
		}
		res.ClustersMatched++

		if err := s.collectNodeGroups(ctx, cluster, res); err != nil {
			s.log.Warn().Str("cluster", name).Err(err).Msg("node group listing failed, excluding cluster from run")
			res.ClustersFailed++
			res.ClusterErrors = append(res.ClusterErrors, models.ClusterError{
				ClusterName: name,
				Message:     err.Error(),
			})
		}
	}

	sort.Slice(res.Targets, func(i, j int) bool {
		a, b := res.Targets[i], res.Targets[j]
		if a.ClusterName != b.ClusterName {
			return a.ClusterName < b.ClusterName
		}
		return a.NodegroupName < b.NodegroupName
	})
	return res, nil
}

// clusterInfo carries the per-cluster fields needed to build targets.
type clusterInfo struct {
	Name                 string
	Tags                 map[string]string
	Endpoint             string
	CertificateAuthority string
	ServiceCIDR          string
	DNSClusterIP         string
}

func (s *EKSSelector) listClusters(ctx context.Context) ([]string, error) {
	paginator := eks.NewListClustersPaginator(s.eks, &eks.ListClustersInput{})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, page.Clusters...)
	}
	return names, nil
}

func (s *EKSSelector) describeCluster(ctx context.Context, name string) (*clusterInfo, error) {
	out, err := s.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{
		Name: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("describe cluster: %w", err)
	}
	if out.Cluster == nil {
		return nil, fmt.Errorf("describe cluster: empty response")
	}

	info := &clusterInfo{
		Name:     name,
		Tags:     out.Cluster.Tags,
		Endpoint: aws.ToString(out.Cluster.Endpoint),
	}
	if out.Cluster.CertificateAuthority != nil {
		info.CertificateAuthority = aws.ToString(out.Cluster.CertificateAuthority.Data)
	}
	if out.Cluster.KubernetesNetworkConfig != nil {
		info.ServiceCIDR = aws.ToString(out.Cluster.KubernetesNetworkConfig.ServiceIpv4Cidr)
		info.DNSClusterIP = dnsClusterIP(info.ServiceCIDR)
	}
	return info, nil
}

// collectNodeGroups expands cluster into rollout targets and skips, appended
// to res. A describe failure of a single node group is a cluster-level error
// for that node group only; listing failures abort the cluster.
func (s *EKSSelector) collectNodeGroups(ctx context.Context, cluster *clusterInfo, res *Resolution) error {
	paginator := eks.NewListNodegroupsPaginator(s.eks, &eks.ListNodegroupsInput{
		ClusterName: aws.String(cluster.Name),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list node groups: %w", err)
		}
		names = append(names, page.Nodegroups...)
	}

	for _, ngName := range names {
		out, err := s.eks.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(cluster.Name),
			NodegroupName: aws.String(ngName),
		})
		if err != nil {
			res.ClusterErrors = append(res.ClusterErrors, models.ClusterError{
				ClusterName: cluster.Name,
				Message:     fmt.Sprintf("describe node group %q: %v", ngName, err),
			})
			continue
		}
		ng := out.Nodegroup
		if ng == nil {
			continue
		}

		if reason := skipReason(ng); reason != "" {
			res.Skipped = append(res.Skipped, models.TargetOutcome{
				ClusterName:   cluster.Name,
				NodegroupName: ngName,
				Kind:          models.OutcomeSkipped,
				Detail:        reason,
			})
			continue
		}

		res.Targets = append(res.Targets, models.TargetNodeGroup{
			ClusterName:           cluster.Name,
			NodegroupName:         ngName,
			LaunchTemplateID:      aws.ToString(ng.LaunchTemplate.Id),
			LaunchTemplateVersion: aws.ToString(ng.LaunchTemplate.Version),
			Endpoint:              cluster.Endpoint,
			CertificateAuthority:  cluster.CertificateAuthority,
			ServiceCIDR:           cluster.ServiceCIDR,
			DNSClusterIP:          cluster.DNSClusterIP,
		})
	}
	return nil
}

// skipReason returns why ng cannot be rolled out, or "" when it is a valid
// target. Only ACTIVE node groups with a caller-supplied launch template
// running a custom AMI (releaseVersion "ami-...") are updatable; node groups
// on EKS-managed release versions take AMI updates from EKS itself.
func skipReason(ng *ekstypes.Nodegroup) string {
	if ng.LaunchTemplate == nil || aws.ToString(ng.LaunchTemplate.Id) == "" {
		return "no caller-supplied launch template"
	}
	if !strings.HasPrefix(aws.ToString(ng.ReleaseVersion), "ami-") {
		return fmt.Sprintf("release version %q is not a custom AMI", aws.ToString(ng.ReleaseVersion))
	}
	if ng.Status != ekstypes.NodegroupStatusActive {
		return fmt.Sprintf("node group status %q is not ACTIVE", ng.Status)
	}
	return ""
}

// dnsClusterIP derives the cluster DNS service address from the service
// CIDR: the .10 host of the CIDR's network, e.g. 10.100.0.0/16 -> 10.100.0.10.
func dnsClusterIP(serviceCIDR string) string {
	network, _, ok := strings.Cut(serviceCIDR, "/")
	if !ok {
		return ""
	}
	octets := strings.Split(network, ".")
	if len(octets) != 4 {
		return ""
	}
	return strings.Join(append(octets[:3], "10"), ".")
}
