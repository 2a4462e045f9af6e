package regionalaccount

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dnitsch/aws-account/internal/awsclient"
	"github.com/dnitsch/aws-account/internal/cachekey"
	"github.com/dnitsch/aws-account/internal/logging"
	"github.com/dnitsch/aws-account/internal/memocache"
	"github.com/dnitsch/aws-account/internal/ratelimit"
)

// RegionFilter narrows one partition to an include set minus an
// exclude set. An empty include means every known region of the
// partition, exclude always wins over include. Include entries are
// taken verbatim, they are not checked against the partition.
type RegionFilter struct {
	IncludeNonRegional bool
	Include            []string
	Exclude            []string
}

// Filter selects the regions a RegionalAccounts container spans,
// keyed by partition name. The zero Filter means every regional
// endpoint of the aws partition.
type Filter struct {
	Partitions map[string]RegionFilter
}

// Regions expands the filter to a sorted, deduplicated region list.
func (f Filter) Regions() []string {
	partitions := f.Partitions
	if len(partitions) == 0 {
		partitions = map[string]RegionFilter{"aws": {}}
	}

	set := map[string]struct{}{}
	for name, pf := range partitions {
		include := pf.Include
		if len(include) == 0 {
			include = awsclient.Regions(name, pf.IncludeNonRegional)
		}
		excluded := map[string]struct{}{}
		for _, region := range pf.Exclude {
			excluded[region] = struct{}{}
		}
		for _, region := range include {
			if _, skip := excluded[region]; !skip {
				set[region] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(set))
	for region := range set {
		out = append(out, region)
	}
	sort.Strings(out)
	return out
}

// SharedCache deduplicates RegionalAccount construction across
// containers, so two containers covering the same account, region and
// limit share one dispatcher and therefore one permit gate.
type SharedCache = memocache.Cache[*RegionalAccount]

// NewSharedCache sizes a cache for cross container RegionalAccount
// reuse. TTL zero keeps entries for the cache lifetime.
func NewSharedCache(size int) *SharedCache {
	return memocache.New[*RegionalAccount](size, 0)
}

// RegionalAccounts lazily builds one RegionalAccount per region
// admitted by the filter. Construction is cheap, no network traffic
// happens until a dispatcher is used.
type RegionalAccounts struct {
	account      *Account
	filter       Filter
	defaultLimit ratelimit.Spec
	regionLimits map[string]ratelimit.Spec
	shared       *SharedCache
	log          *zap.Logger

	mu       sync.Mutex
	regional map[string]*RegionalAccount
}

// NewRegionalAccounts spans account across the regions admitted by
// the zero filter, gated per region by limit.
func NewRegionalAccounts(account *Account, limit ratelimit.Spec) *RegionalAccounts {
	return &RegionalAccounts{
		account:      account,
		defaultLimit: limit,
		regionLimits: map[string]ratelimit.Spec{},
		regional:     map[string]*RegionalAccount{},
		log:          logging.Get(),
	}
}

func (c *RegionalAccounts) WithFilter(f Filter) *RegionalAccounts {
	c.filter = f
	return c
}

// WithRegionLimits overrides the default limit for named regions.
func (c *RegionalAccounts) WithRegionLimits(limits map[string]ratelimit.Spec) *RegionalAccounts {
	for region, spec := range limits {
		c.regionLimits[region] = spec
	}
	return c
}

// WithSharedCache makes this container reuse dispatchers cached by
// other containers with matching signatures.
func (c *RegionalAccounts) WithSharedCache(cache *SharedCache) *RegionalAccounts {
	c.shared = cache
	return c
}

func (c *RegionalAccounts) WithLogger(log *zap.Logger) *RegionalAccounts {
	c.log = log
	return c
}

// Account returns the account this container spans.
func (c *RegionalAccounts) Account() *Account {
	return c.account
}

// Regions lists the regions admitted by the filter, sorted.
func (c *RegionalAccounts) Regions() []string {
	return c.filter.Regions()
}

// Len reports how many regions the filter admits.
func (c *RegionalAccounts) Len() int {
	return len(c.Regions())
}

// Contains reports whether the filter admits region.
func (c *RegionalAccounts) Contains(region string) bool {
	for _, r := range c.filter.Regions() {
		if r == region {
			return true
		}
	}
	return false
}

// Get returns the dispatcher for region when the filter admits it.
// The dispatcher is built on first use and then reused.
func (c *RegionalAccounts) Get(region string) (*RegionalAccount, bool) {
	if !c.Contains(region) {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ra, ok := c.regional[region]; ok {
		return ra, true
	}
	ra := c.buildLocked(region)
	c.regional[region] = ra
	return ra, true
}

// Values returns the dispatchers for every admitted region in sorted
// region order, building any that do not exist yet.
func (c *RegionalAccounts) Values() []*RegionalAccount {
	regions := c.Regions()
	out := make([]*RegionalAccount, 0, len(regions))
	for _, region := range regions {
		if ra, ok := c.Get(region); ok {
			out = append(out, ra)
		}
	}
	return out
}

func (c *RegionalAccounts) buildLocked(region string) *RegionalAccount {
	spec := c.defaultLimit
	if s, ok := c.regionLimits[region]; ok {
		spec = s
	}
	build := func() (*RegionalAccount, error) {
		return NewRegional(ratelimit.New(spec), c.account, region).WithLogger(c.log), nil
	}

	if c.shared != nil {
		key := cachekey.Sum([]any{c.account.id, region, spec.MaxCount, spec.Interval, spec.Block}, nil)
		if ra, err := c.shared.GetOrCreate(key, build); err == nil {
			return ra
		}
	}
	ra, _ := build()
	return ra
}

// Set groups RegionalAccounts containers. Add, Discard and Members
// operate on containers, Accounts flattens to the distinct regional
// dispatchers across all of them.
type Set struct {
	mu      sync.Mutex
	members map[*RegionalAccounts]struct{}
}

// NewSet builds a set from the given containers.
func NewSet(members ...*RegionalAccounts) *Set {
	s := &Set{members: map[*RegionalAccounts]struct{}{}}
	for _, m := range members {
		s.Add(m)
	}
	return s
}

// Add includes a container for iteration, idempotent.
func (s *Set) Add(c *RegionalAccounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[c] = struct{}{}
}

// Discard removes a container if present.
func (s *Set) Discard(c *RegionalAccounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, c)
}

// Len reports the number of member containers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Members snapshots the current containers.
func (s *Set) Members() []*RegionalAccounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RegionalAccounts, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	return out
}

// Accounts returns every distinct RegionalAccount across the member
// containers. Dispatchers shared between containers appear once.
func (s *Set) Accounts() []*RegionalAccount {
	seen := map[*RegionalAccount]struct{}{}
	out := []*RegionalAccount{}
	for _, member := range s.Members() {
		for _, ra := range member.Values() {
			if _, dup := seen[ra]; dup {
				continue
			}
			seen[ra] = struct{}{}
			out = append(out, ra)
		}
	}
	return out
}
