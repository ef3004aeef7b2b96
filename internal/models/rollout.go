package models

import (
	"fmt"
	"time"
)

// AMIReference identifies one observed version of the hardened machine image.
// References are immutable: a newer observation supersedes an older one, it
// never mutates it.
type AMIReference struct {
	ID         string    `json:"id"`
	ObservedAt time.Time `json:"observed_at"`
}

// TagPair is a single key/value entry of a ClusterTagFilter.
type TagPair struct {
	Key   string `yaml:"key"   json:"key"`
	Value string `yaml:"value" json:"value"`
}

// ClusterTagFilter selects EKS clusters by tag. A cluster matches when every
// pair is present among its tags; extra tags on the cluster are ignored.
// The filter is supplied as configuration and is read-only at runtime.
type ClusterTagFilter []TagPair

// Matches reports whether tags contains every pair of the filter.
// An empty filter matches every cluster.
func (f ClusterTagFilter) Matches(tags map[string]string) bool {
	for _, p := range f {
		if v, ok := tags[p.Key]; !ok || v != p.Value {
			return false
		}
	}
	return true
}

// String renders the filter as "k=v,k=v" for logs and reports.
func (f ClusterTagFilter) String() string {
	s := ""
	for i, p := range f {
		if i > 0 {
			s += ","
		}
		s += p.Key + "=" + p.Value
	}
	return s
}

// TargetNodeGroup is one managed node group selected for rollout, together
// with the cluster join material needed to render its instance user data.
type TargetNodeGroup struct {
	ClusterName           string `json:"cluster_name"`
	NodegroupName         string `json:"nodegroup_name"`
	LaunchTemplateID      string `json:"launch_template_id"`
	LaunchTemplateVersion string `json:"launch_template_version"`

	// Cluster join material, captured at selection time.
	Endpoint             string `json:"endpoint,omitempty"`
	CertificateAuthority string `json:"certificate_authority,omitempty"`
	ServiceCIDR          string `json:"service_cidr,omitempty"`
	DNSClusterIP         string `json:"dns_cluster_ip,omitempty"`
}

// Key returns the state-store identity of the node group.
func (t TargetNodeGroup) Key() string {
	return NodeGroupKey(t.ClusterName, t.NodegroupName)
}

// NodeGroupKey builds the "<cluster>/<nodegroup>" state-store key.
func NodeGroupKey(clusterName, nodegroupName string) string {
	return fmt.Sprintf("%s/%s", clusterName, nodegroupName)
}

// RolloutStatus is the per-node-group rollout state machine:
// Pending -> InProgress -> {Succeeded, Failed}.
type RolloutStatus string

const (
	RolloutPending    RolloutStatus = "PENDING"
	RolloutInProgress RolloutStatus = "IN_PROGRESS"
	RolloutSucceeded  RolloutStatus = "SUCCEEDED"
	RolloutFailed     RolloutStatus = "FAILED"
)

// ErrorKind classifies a failed rollout attempt for retry decisions.
type ErrorKind string

const (
	// ErrorKindNone marks records without a failure.
	ErrorKindNone ErrorKind = ""

	// ErrorKindTimeout marks node-group updates that did not reach a
	// terminal state within the rollout timeout. Retried on the next run
	// while the attempted AMI is still the latest.
	ErrorKindTimeout ErrorKind = "TIMEOUT"

	// ErrorKindRejected marks updates the API refused (permissions,
	// validation). Not auto-retried against the same AMI; requires
	// operator attention or a newer AMI.
	ErrorKindRejected ErrorKind = "REJECTED"

	// ErrorKindStale marks InProgress records forcibly reset after the
	// stale timeout, usually left behind by a crashed worker.
	ErrorKindStale ErrorKind = "STALE_RESET"
)

// RolloutRecord is the persisted per-node-group rollout state. Created on the
// first rollout attempt, updated on every attempt, never deleted
// automatically. LastAppliedAMI only ever advances to a newer reference.
type RolloutRecord struct {
	ClusterName   string        `json:"cluster_name"`
	NodegroupName string        `json:"nodegroup_name"`
	Status        RolloutStatus `json:"status"`

	// LastAppliedAMI is the newest AMI id successfully rolled out to the
	// node group. Empty until the first success.
	LastAppliedAMI string `json:"last_applied_ami,omitempty"`

	// AttemptedAMI is the AMI id of the most recent attempt, successful
	// or not. Used to suppress retries of rejected attempts against the
	// same image.
	AttemptedAMI string    `json:"attempted_ami,omitempty"`
	LastAttempt  time.Time `json:"last_attempt"`

	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`

	// Revision is the optimistic-concurrency token. Every successful write
	// increments it; conditional writes compare against the value read.
	Revision int64 `json:"revision"`
}

// Key returns the state-store identity of the record.
func (r RolloutRecord) Key() string {
	return NodeGroupKey(r.ClusterName, r.NodegroupName)
}
