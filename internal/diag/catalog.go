package diag

import "fmt"

type relationRef struct {
	rel *Relation
	idx int
}

// catalog indexes a problem for lookups during evaluation. Read-only once built.
type catalog struct {
	problem   *Problem
	transport Transport
	jobs      map[string]int
	vehicles  map[string]int
	areas     map[string]*Area
	relations map[string][]relationRef
}

func newCatalog(p *Problem, t Transport) (*catalog, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil problem", ErrInconsistent)
	}
	if t == nil {
		return nil, ErrNoTransport
	}
	c := &catalog{
		problem:   p,
		transport: t,
		jobs:      make(map[string]int, len(p.Jobs)),
		vehicles:  make(map[string]int, len(p.Vehicles)),
		areas:     make(map[string]*Area, len(p.Areas)),
		relations: map[string][]relationRef{},
	}
	for i := range p.Jobs {
		id := p.Jobs[i].ID
		if id == "" {
			return nil, fmt.Errorf("%w: job at index %d has no id", ErrInconsistent, i)
		}
		if _, dup := c.jobs[id]; dup {
			return nil, fmt.Errorf("%w: duplicate job id %q", ErrInconsistent, id)
		}
		c.jobs[id] = i
	}
	for i := range p.Vehicles {
		id := p.Vehicles[i].ID
		if id == "" {
			return nil, fmt.Errorf("%w: vehicle at index %d has no id", ErrInconsistent, i)
		}
		if _, dup := c.vehicles[id]; dup {
			return nil, fmt.Errorf("%w: duplicate vehicle id %q", ErrInconsistent, id)
		}
		c.vehicles[id] = i
	}
	for i := range p.Areas {
		c.areas[p.Areas[i].ID] = &p.Areas[i]
	}
	for ri := range p.Relations {
		rel := &p.Relations[ri]
		if _, ok := c.vehicles[rel.VehicleID]; !ok {
			return nil, fmt.Errorf("%w: relation %d: %w %q", ErrInconsistent, ri, ErrUnknownVehicle, rel.VehicleID)
		}
		for idx, jid := range rel.JobIDs {
			if _, ok := c.jobs[jid]; !ok {
				return nil, fmt.Errorf("%w: relation %d: %w %q", ErrInconsistent, ri, ErrUnknownJob, jid)
			}
			c.relations[jid] = append(c.relations[jid], relationRef{rel: rel, idx: idx})
		}
	}
	return c, nil
}

func (c *catalog) job(id string) (*Job, bool) {
	i, ok := c.jobs[id]
	if !ok {
		return nil, false
	}
	return &c.problem.Jobs[i], true
}

func (c *catalog) vehicle(id string) (*Vehicle, int, bool) {
	i, ok := c.vehicles[id]
	if !ok {
		return nil, -1, false
	}
	return &c.problem.Vehicles[i], i, true
}

// tour resolves job ids of a route. Unknown ids and jobs visited twice are fatal.
func (c *catalog) tour(vehicleID string, ids []string) ([]*Job, error) {
	jobs := make([]*Job, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		j, ok := c.job(id)
		if !ok {
			return nil, fmt.Errorf("%w: route of %q: %w %q", ErrInconsistent, vehicleID, ErrUnknownJob, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: job %q visited twice on route of %q", ErrInconsistent, id, vehicleID)
		}
		seen[id] = struct{}{}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
