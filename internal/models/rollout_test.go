package models

import "testing"

func TestClusterTagFilterMatches(t *testing.T) {
	filter := ClusterTagFilter{{Key: "Team", Value: "Development"}}

	cases := []struct {
		name string
		tags map[string]string
		want bool
	}{
		{"exact match", map[string]string{"Team": "Development"}, true},
		{"extra tags ignored", map[string]string{"Team": "Development", "Env": "prod"}, true},
		{"wrong value", map[string]string{"Team": "Ops"}, false},
		{"missing key", map[string]string{"Env": "prod"}, false},
		{"no tags", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filter.Matches(tc.tags); got != tc.want {
				t.Errorf("Matches(%v) = %v; want %v", tc.tags, got, tc.want)
			}
		})
	}
}

func TestClusterTagFilterEmptyMatchesAll(t *testing.T) {
	var filter ClusterTagFilter
	if !filter.Matches(nil) {
		t.Error("empty filter must match a cluster without tags")
	}
	if !filter.Matches(map[string]string{"Team": "Ops"}) {
		t.Error("empty filter must match any tagged cluster")
	}
}

func TestClusterTagFilterAllPairsRequired(t *testing.T) {
	filter := ClusterTagFilter{
		{Key: "Team", Value: "Development"},
		{Key: "Env", Value: "prod"},
	}
	if filter.Matches(map[string]string{"Team": "Development"}) {
		t.Error("cluster with only one of two required tags must not match")
	}
	if !filter.Matches(map[string]string{"Team": "Development", "Env": "prod"}) {
		t.Error("cluster with both required tags must match")
	}
}

func TestNodeGroupKey(t *testing.T) {
	if got := NodeGroupKey("prod-eks", "workers"); got != "prod-eks/workers" {
		t.Errorf("NodeGroupKey = %q; want prod-eks/workers", got)
	}
	target := TargetNodeGroup{ClusterName: "prod-eks", NodegroupName: "workers"}
	if target.Key() != "prod-eks/workers" {
		t.Errorf("TargetNodeGroup.Key() = %q", target.Key())
	}
	rec := RolloutRecord{ClusterName: "prod-eks", NodegroupName: "workers"}
	if rec.Key() != "prod-eks/workers" {
		t.Errorf("RolloutRecord.Key() = %q", rec.Key())
	}
}

func TestRunReportCounts(t *testing.T) {
	report := RunReport{Outcomes: []TargetOutcome{
		{Kind: OutcomeSucceeded},
		{Kind: OutcomeSucceeded},
		{Kind: OutcomeFailed},
		{Kind: OutcomeSkipped},
		{Kind: OutcomeSkipped},
		{Kind: OutcomeSkipped},
	}}
	succeeded, failed, skipped := report.Counts()
	if succeeded != 2 || failed != 1 || skipped != 3 {
		t.Errorf("Counts() = %d/%d/%d; want 2/1/3", succeeded, failed, skipped)
	}
}
