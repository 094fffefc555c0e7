package pricing

// TierFor maps a lifetime completed-ride count to its commission tier.
func TierFor(completedRides int64) Tier {
	for _, t := range Tiers {
		if completedRides >= t.MinRides {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// SplitFare computes the platform commission and the worker's net for a fare.
// Commission is rounded half up to the nearest currency unit.
func SplitFare(fare, completedRides int64) Split {
	tier := TierFor(completedRides)
	commission := (fare*tier.RateBP + 5000) / 10000
	return Split{
		Tier:       tier,
		Fare:       fare,
		Commission: commission,
		Net:        fare - commission,
	}
}
