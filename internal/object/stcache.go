package object

// STCheck is one subtype-test-cache row. Type-argument fields compare by
// identity, which is sound only after canonicalization.
type STCheck struct {
	InstanceClassID         ClassID
	InstanceTypeArgs        TypeArguments
	InstantiatorTypeArgs    TypeArguments
	Result                  bool
}

// SubtypeTestCache accelerates one type-test site. The compiler emits an
// inline probe over these rows; the runtime appends on miss.
type SubtypeTestCache struct {
	checks []STCheck
}

func NewSubtypeTestCache() *SubtypeTestCache {
	return &SubtypeTestCache{}
}

func (c *SubtypeTestCache) NumberOfChecks() int { return len(c.checks) }

func (c *SubtypeTestCache) GetCheck(i int) STCheck { return c.checks[i] }

// AddCheck appends a row. Key uniqueness and the capacity bound are enforced
// by the caller, which also refuses lazy instantiator vectors.
func (c *SubtypeTestCache) AddCheck(cid ClassID, instanceTA, instantiatorTA TypeArguments, result bool) {
	c.checks = append(c.checks, STCheck{
		InstanceClassID:      cid,
		InstanceTypeArgs:     instanceTA,
		InstantiatorTypeArgs: instantiatorTA,
		Result:               result,
	})
}

// Lookup probes the cache on the 3-key prefix.
func (c *SubtypeTestCache) Lookup(cid ClassID, instanceTA, instantiatorTA TypeArguments) (result, hit bool) {
	for _, chk := range c.checks {
		if chk.InstanceClassID == cid &&
			chk.InstanceTypeArgs == instanceTA &&
			chk.InstantiatorTypeArgs == instantiatorTA {
			return chk.Result, true
		}
	}
	return false, false
}
