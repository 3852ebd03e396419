package dist

// Max returns the largest x passed by any member of g.
// Every member gets the same result.
func Max(x float64, g *Group) (float64, error) {
	return reduceScalar(x, g, ReduceMax)
}

// Mean returns the average of the x passed by the
// members of g. Every member gets the same result.
func Mean(x float64, g *Group) (float64, error) {
	return reduceScalar(x, g, ReduceAvg)
}

func reduceScalar(x float64, g *Group, op ReduceOp) (float64, error) {
	res, err := g.AllReduce([]float64{x}, op)
	if err != nil {
		return 0, err
	}
	return res[0], nil
}
