package opt

import "math"

// cost is the weighted route distance plus a penalty per job left out.
func (e *engine) cost(s Solution) float64 {
	wDist := e.p.Objectives["distance"]
	if wDist == 0 {
		wDist = 1
	}
	wFail := e.p.Objectives["unassigned"]
	if wFail == 0 {
		wFail = 1e7
	}
	total := 0.0
	for _, pl := range s.Plans {
		total += wDist * e.distance(pl)
	}
	return total + wFail*float64(len(s.Pool))
}

func (e *engine) distance(pl RoutePlan) float64 {
	if len(pl.Order) == 0 {
		return 0
	}
	_, d, err := e.probe.Schedule(pl.VehicleID, e.ids(pl.Order))
	if err != nil {
		return math.Inf(1)
	}
	return d
}

// feasibleTour reports whether every job of the plan could have been appended in turn.
func (e *engine) feasibleTour(pl RoutePlan) bool {
	ids := e.ids(pl.Order)
	for k := range ids {
		res, err := e.probe.Insert(pl.VehicleID, ids[:k], ids[k])
		if err != nil {
			return false
		}
		ok := false
		for _, f := range res.Feasible {
			if f.Position == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// twoOptImprove reverses segments within each plan while that shortens it and stays feasible.
func (e *engine) twoOptImprove(sol Solution) Solution {
	for vi := range sol.Plans {
		pl := sol.Plans[vi]
		n := len(pl.Order)
		if n < 3 {
			continue
		}
		bestDist := e.distance(pl)
		improved := true
		for improved {
			improved = false
			for i := 0; i < n-1; i++ {
				for k := i + 1; k < n; k++ {
					cand := RoutePlan{VehicleID: pl.VehicleID, Order: twoOptSwap(pl.Order, i, k)}
					d := e.distance(cand)
					if d+1e-3 >= bestDist || !e.feasibleTour(cand) {
						continue
					}
					pl, bestDist, improved = cand, d, true
				}
			}
		}
		sol.Plans[vi] = pl
	}
	return sol
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
