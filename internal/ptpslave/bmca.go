/*
Copyright (c) st2110core authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ptpslave

// ComparisonResult mirrors the teacher's sptp/bmc.ComparisonResult.
type ComparisonResult int8

// Comparison outcomes.
const (
	ABetterTopo ComparisonResult = 2
	ABetter     ComparisonResult = 1
	Unknown     ComparisonResult = 0
	BBetter     ComparisonResult = -1
	BBetterTopo ComparisonResult = -2
)

func comparePortIdentity(a, b *PortIdentity) int64 {
	diff := int64(a.ClockIdentity) - int64(b.ClockIdentity)
	if diff == 0 {
		diff = int64(a.PortNumber) - int64(b.PortNumber)
	}
	return diff
}

func dscmp2(a, b *Announce) ComparisonResult {
	if a.StepsRemoved+1 < b.StepsRemoved {
		return ABetter
	}
	if b.StepsRemoved+1 < a.StepsRemoved {
		return BBetter
	}
	diff := comparePortIdentity(&a.SourcePort, &b.SourcePort)
	if diff < 0 {
		return ABetterTopo
	}
	if diff > 0 {
		return BBetterTopo
	}
	return Unknown
}

// telcoDscmp ranks two ANNOUNCE messages by grandmaster quality, then
// priority2, then a caller-supplied local priority, then topology — the
// same ordering as the teacher's sptp/client bmca() + sptp/bmc.TelcoDscmp.
func telcoDscmp(a, b *Announce, localPrioA, localPrioB int) ComparisonResult {
	if a == nil && b == nil {
		return Unknown
	}
	if a == nil {
		return BBetter
	}
	if b == nil {
		return ABetter
	}
	if a.GrandmasterQuality.ClockClass != b.GrandmasterQuality.ClockClass {
		if a.GrandmasterQuality.ClockClass < b.GrandmasterQuality.ClockClass {
			return ABetter
		}
		return BBetter
	}
	if a.GrandmasterQuality.ClockAccuracy != b.GrandmasterQuality.ClockAccuracy {
		if a.GrandmasterQuality.ClockAccuracy < b.GrandmasterQuality.ClockAccuracy {
			return ABetter
		}
		return BBetter
	}
	if a.GrandmasterQuality.OffsetScaledLogVariance != b.GrandmasterQuality.OffsetScaledLogVariance {
		if a.GrandmasterQuality.OffsetScaledLogVariance < b.GrandmasterQuality.OffsetScaledLogVariance {
			return ABetter
		}
		return BBetter
	}
	if a.GrandmasterPriority2 != b.GrandmasterPriority2 {
		if a.GrandmasterPriority2 < b.GrandmasterPriority2 {
			return ABetter
		}
		return BBetter
	}
	if localPrioA != localPrioB {
		if localPrioA < localPrioB {
			return ABetter
		}
		return BBetter
	}
	return dscmp2(a, b)
}

// BMCA picks the best ANNOUNCE among candidates using the ordering above.
// Returns nil when candidates is empty.
func BMCA(candidates []*Announce, localPriority map[ClockIdentity]int) *Announce {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		pa := localPriority[best.GrandmasterIdentity]
		pb := localPriority[cand.GrandmasterIdentity]
		if telcoDscmp(best, cand, pa, pb) < 0 {
			best = cand
		}
	}
	return best
}
