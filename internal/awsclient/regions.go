package awsclient

import "sort"

// Static region tables per partition. Kept static instead of calling
// the endpoints API so that enumerating regions never costs a remote
// call. Extend when AWS launches regions that matter to a deployment.
var partitionRegions = map[string][]string{
	"aws": {
		"af-south-1", "ap-east-1", "ap-northeast-1", "ap-northeast-2", "ap-northeast-3",
		"ap-south-1", "ap-southeast-1", "ap-southeast-2", "ap-southeast-3", "ca-central-1",
		"eu-central-1", "eu-north-1", "eu-south-1", "eu-west-1", "eu-west-2", "eu-west-3",
		"me-south-1", "sa-east-1", "us-east-1", "us-east-2", "us-west-1", "us-west-2",
	},
	"aws-us-gov": {
		"us-gov-east-1", "us-gov-west-1",
	},
	"aws-cn": {
		"cn-north-1", "cn-northwest-1",
	},
}

// Non regional endpoint names admitted when a filter asks for them.
var partitionGlobal = map[string][]string{
	"aws":        {"aws-global"},
	"aws-us-gov": {"aws-us-gov-global"},
	"aws-cn":     {"aws-cn-global"},
}

// Partitions lists the known partition names, sorted.
func Partitions() []string {
	out := make([]string, 0, len(partitionRegions))
	for p := range partitionRegions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Regions returns the known region names of a partition, sorted.
// includeNonRegional additionally admits partition global endpoint
// names. Unknown partitions yield nil.
func Regions(partition string, includeNonRegional bool) []string {
	regions, ok := partitionRegions[partition]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(regions)+2)
	out = append(out, regions...)
	if includeNonRegional {
		out = append(out, partitionGlobal[partition]...)
	}
	sort.Strings(out)
	return out
}

// IsRegion reports whether s names a region in any known partition.
// Used to spot region tokens inside endpoint URLs.
func IsRegion(s string) bool {
	for _, regions := range partitionRegions {
		for _, r := range regions {
			if r == s {
				return true
			}
		}
	}
	return false
}
