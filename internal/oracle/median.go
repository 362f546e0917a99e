package oracle

// medianPrice returns the median of obs. For an even count it is the mean of
// the two middle values, truncated. obs is reordered in place.
func medianPrice(obs []int64) int64 {
	n := len(obs)
	if n == 0 {
		return 0
	}
	mid := n / 2
	hi := quickselect(obs, mid)
	if n%2 == 1 {
		return hi
	}

	// Partitioning left everything below the upper-middle element in
	// obs[:mid]; the lower-middle value is its maximum.
	lo := obs[0]
	for _, v := range obs[1:mid] {
		if v > lo {
			lo = v
		}
	}
	return lo + (hi-lo)/2
}

// quickselect places the k-th smallest element of a at index k and returns
// it, partially ordering a around it. Deterministic middle pivot: evidence
// batches are small and replay must not depend on a random source.
func quickselect(a []int64, k int) int64 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi)
		switch {
		case k < p:
			hi = p - 1
		case k > p:
			lo = p + 1
		default:
			return a[k]
		}
	}
	return a[k]
}

func partition(a []int64, lo, hi int) int {
	mid := lo + (hi-lo)/2
	a[mid], a[hi] = a[hi], a[mid]
	pivot := a[hi]

	i := lo
	for j := lo; j < hi; j++ {
		if a[j] < pivot {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}
